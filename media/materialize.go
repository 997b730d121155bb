package media

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pattern tokens
const (
	TokenIdentifier = "CAMPO_IDENTIFICADOR"
	TokenUserID     = "CAMPO_USR_ID"
	TokenResult     = "CAMPO_RESULTADO"
	TokenDate       = "CAMPO_FECHA"

	legacyExtSentinel = ".ext"
	defaultFilename   = "image"

	// MaxCollisionAttempts bounds the _1, _2, ... suffix search
	MaxCollisionAttempts = 1000
)

var (
	tokenRe     = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// FieldLookup returns a row field's value as text, false when missing or null.
type FieldLookup func(name string) (string, bool)

// PatternFields names the row fields behind the well-known tokens.
type PatternFields struct {
	Identifier string
	UserID     string
	Result     string
	Date       string
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006_01_02",
	"02/01/2006",
	"02-01-2006",
	"20060102",
}

// Materialize renders pattern with row values into a relative slash path ending in ext.
func Materialize(pattern string, fields PatternFields, lookup FieldLookup, ext string, now time.Time) string {
	rendered := tokenRe.ReplaceAllStringFunc(pattern, func(tok string) string {
		name := tokenRe.FindStringSubmatch(tok)[1]
		switch strings.ToUpper(name) {
		case TokenIdentifier:
			return fieldValue(lookup, fields.Identifier)
		case TokenUserID:
			return fieldValue(lookup, fields.UserID)
		case TokenResult:
			return fieldValue(lookup, fields.Result)
		case TokenDate:
			raw, _ := lookupField(lookup, fields.Date)
			return FormatDate(raw, now)
		default:
			return fieldValue(lookup, name)
		}
	})

	rendered = strings.TrimSuffix(rendered, legacyExtSentinel)

	var segments []string
	for _, seg := range strings.Split(strings.ReplaceAll(rendered, "\\", "/"), "/") {
		seg = Sanitize(seg)
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		segments = []string{defaultFilename}
	}
	return path.Join(segments...) + "." + ext
}

// Sanitize strips everything outside [A-Za-z0-9_-].
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "")
}

// FormatDate renders an epoch (seconds or milliseconds) or a parseable date as YYYY_MM_DD,
// falling back to now.
func FormatDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && len(raw) != 8 {
			if n > 1e12 {
				n /= 1000
			}
			return time.Unix(n, 0).UTC().Format("2006_01_02")
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format("2006_01_02")
			}
		}
	}
	return now.Format("2006_01_02")
}

// WithSuffix inserts _n before the extension of rel.
func WithSuffix(rel string, n int) string {
	ext := path.Ext(rel)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(rel, ext), n, ext)
}

// ResolveCollision returns rel, or the first rel_n that does not exist under root. Past the
// attempt bound it gives back rel unchanged.
func ResolveCollision(root, rel string) string {
	return ResolveCollisionFunc(rel, func(candidate string) bool {
		return exists(filepath.Join(root, filepath.FromSlash(candidate)))
	})
}

// ResolveCollisionFunc is ResolveCollision with the caller deciding which paths are taken.
func ResolveCollisionFunc(rel string, taken func(string) bool) string {
	if !taken(rel) {
		return rel
	}
	for i := 1; i <= MaxCollisionAttempts; i++ {
		candidate := WithSuffix(rel, i)
		if !taken(candidate) {
			return candidate
		}
	}
	return rel
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func lookupField(lookup FieldLookup, name string) (string, bool) {
	if lookup == nil || name == "" {
		return "", false
	}
	return lookup(name)
}

func fieldValue(lookup FieldLookup, name string) string {
	v, _ := lookupField(lookup, name)
	return Sanitize(v)
}
