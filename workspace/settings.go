package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
)

const SettingsFileName = "workspace.yaml"

// ErrMissingConfig is raised before any ingestion when required settings are absent.
var ErrMissingConfig = errors.New("missing required configuration")

// Settings is the per-workspace configuration file.
type Settings struct {
	Source        SourceSettings `yaml:"source" json:"source"`
	Naming        NamingSettings `yaml:"naming" json:"naming"`
	IgnoredLabels []string       `yaml:"ignored_labels" json:"ignored_labels"`
}

type SourceSettings struct {
	Driver       string   `yaml:"driver" json:"driver"` // sqlite3 or pgx
	DSN          string   `yaml:"dsn" json:"dsn"`
	TablePattern string   `yaml:"table_pattern" json:"table_pattern"`
	PrimaryKey   string   `yaml:"primary_key" json:"primary_key"`
	ImageFields  []string `yaml:"image_fields" json:"image_fields"`
}

type NamingSettings struct {
	Pattern         string `yaml:"pattern" json:"pattern"`
	IdentifierField string `yaml:"identifier_field" json:"identifier_field"`
	UserIDField     string `yaml:"user_id_field" json:"user_id_field"`
	ResultField     string `yaml:"result_field" json:"result_field"`
	DateField       string `yaml:"date_field" json:"date_field"`
}

func DefaultSettings() Settings {
	return Settings{
		Source: SourceSettings{
			Driver:       "sqlite3",
			TablePattern: "*",
			PrimaryKey:   "id",
		},
		Naming: NamingSettings{
			Pattern:         "{{CAMPO_IDENTIFICADOR}}/{{CAMPO_USR_ID}}_{{CAMPO_FECHA}}",
			IdentifierField: "identificador",
			UserIDField:     "usr_id",
			ResultField:     "resultado",
			DateField:       "fecha",
		},
	}
}

// PatternFields maps the naming settings onto the materializer's token fields.
func (s Settings) PatternFields() media.PatternFields {
	return media.PatternFields{
		Identifier: s.Naming.IdentifierField,
		UserID:     s.Naming.UserIDField,
		Result:     s.Naming.ResultField,
		Date:       s.Naming.DateField,
	}
}

// ValidateSource checks everything the row crawler needs.
func (s Settings) ValidateSource() error {
	var missing []string
	if strings.TrimSpace(s.Source.DSN) == "" {
		missing = append(missing, "source.dsn")
	}
	if strings.TrimSpace(s.Source.PrimaryKey) == "" {
		missing = append(missing, "source.primary_key")
	}
	if len(s.Source.ImageFields) == 0 {
		missing = append(missing, "source.image_fields")
	}
	missing = append(missing, s.missingNaming()...)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateNaming checks only what the row materializer needs.
func (s Settings) ValidateNaming() error {
	if missing := s.missingNaming(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (s Settings) missingNaming() []string {
	var missing []string
	pattern := s.Naming.Pattern
	if strings.TrimSpace(pattern) == "" {
		return []string{"naming.pattern"}
	}
	tokens := map[string]string{
		media.TokenIdentifier: s.Naming.IdentifierField,
		media.TokenUserID:     s.Naming.UserIDField,
		media.TokenResult:     s.Naming.ResultField,
		media.TokenDate:       s.Naming.DateField,
	}
	for _, tok := range []string{media.TokenIdentifier, media.TokenUserID, media.TokenResult, media.TokenDate} {
		if strings.Contains(pattern, tok) && strings.TrimSpace(tokens[tok]) == "" {
			missing = append(missing, "naming field for "+tok)
		}
	}
	return missing
}

// LoadSettings reads path; a missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes s to path via a temp file and rename.
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
