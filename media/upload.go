package media

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var driveRoot = regexp.MustCompile(`^[A-Za-z]:`)

// SanitizeUploadPath validates an uploader-supplied relative path and returns it in clean
// slash form. Traversal segments and absolute or drive-rooted paths are rejected.
func SanitizeUploadPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathTraversal)
	}
	if strings.HasPrefix(p, "/") || driveRoot.MatchString(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathTraversal, p)
	}

	var segments []string
	for _, seg := range strings.Split(p, "/") {
		seg = strings.TrimSpace(seg)
		if strings.Contains(seg, "..") {
			return "", fmt.Errorf("%w: %q contains '..'", ErrPathTraversal, p)
		}
		if seg == "" || seg == "." {
			continue
		}
		if strings.ContainsAny(seg, "\x00:") {
			return "", fmt.Errorf("%w: %q has an invalid segment", ErrPathTraversal, p)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %q has no file name", ErrPathTraversal, p)
	}
	return path.Join(segments...), nil
}

// ReplaceExt swaps the extension of a slash path for ext.
func ReplaceExt(rel, ext string) string {
	return strings.TrimSuffix(rel, path.Ext(rel)) + "." + ext
}

// FolderOf returns the owning folder of a relative path, "" for the root.
func FolderOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
