package workspace

import (
	"errors"
	"regexp"
	"strings"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/utils"
)

const maxSlugLen = 64

var (
	ErrInvalidSlug = errors.New("invalid workspace slug")

	slugSeparators = regexp.MustCompile(`[\s.]+`)
	slugInvalid    = regexp.MustCompile(`[^a-z0-9_-]+`)
	slugDashes     = regexp.MustCompile(`-{2,}`)
)

// NormalizeSlug lowercases s and reduces it to [a-z0-9-_].
func NormalizeSlug(s string) (string, error) {
	slug := strings.ToLower(utils.StripDiacritics(strings.TrimSpace(s)))
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugDashes.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-_")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-_")
	}
	if slug == "" {
		return "", ErrInvalidSlug
	}
	return slug, nil
}
