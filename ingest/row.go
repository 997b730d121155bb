package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one source record as the pipeline sees it, independent of the driver that read it.
type Row interface {
	// Field returns a value as text; false when missing or NULL
	Field(name string) (string, bool)
	// Payload returns the untouched bytes of a field
	Payload(name string) ([]byte, bool)
}

// MapRow adapts a column -> value map, the shape database/sql scans produce.
type MapRow map[string]interface{}

func (r MapRow) lookup(name string) (interface{}, bool) {
	if v, ok := r[name]; ok {
		return v, v != nil
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, v != nil
		}
	}
	return nil, false
}

func (r MapRow) Field(name string) (string, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int:
		return strconv.Itoa(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case time.Time:
		return val.Format("2006-01-02 15:04:05"), true
	default:
		return fmt.Sprint(val), true
	}
}

func (r MapRow) Payload(name string) ([]byte, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	default:
		return nil, false
	}
}

// SourceRow is a row tagged with where it came from, for summaries and logs.
type SourceRow struct {
	Table string
	ID    string
	Row   Row
}

func (s SourceRow) label(field string) string {
	if s.Table == "" {
		return fmt.Sprintf("#%s.%s", s.ID, field)
	}
	return fmt.Sprintf("%s#%s.%s", s.Table, s.ID, field)
}
