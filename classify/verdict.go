// Package classify runs stored images through the external detector and records verdicts.
package classify

import (
	"strings"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

// NormalizeLabel uppercases a detector label and joins its words with underscores.
func NormalizeLabel(label string) string {
	fields := strings.FieldsFunc(strings.ToUpper(strings.TrimSpace(label)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	})
	return strings.Join(fields, "_")
}

// IgnoredSet builds the lookup for a configured ignore list.
func IgnoredSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		if n := NormalizeLabel(l); n != "" {
			set[n] = true
		}
	}
	return set
}

// Verdict is the image-level outcome derived from its detections.
type Verdict struct {
	Result      string
	SafeScore   float64
	UnsafeScore float64
}

// Decide applies the policy: any detection not ignored makes the image unsafe, scored by the
// highest such detection. Ignored detections are kept on the image but never count.
func Decide(detections []models.Detection) Verdict {
	var (
		unsafe bool
		top    float64
	)
	for _, d := range detections {
		if d.Ignored {
			continue
		}
		if !unsafe || d.Score > top {
			top = d.Score
		}
		unsafe = true
	}
	if !unsafe {
		return Verdict{Result: database.ResultSafe, SafeScore: 1.0, UnsafeScore: 0}
	}
	return Verdict{Result: database.ResultUnsafe, SafeScore: 0, UnsafeScore: top}
}
