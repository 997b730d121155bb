package media

import (
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
)

var supportedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".heif": true,
}

// IsImageFile checks if the filename has an extension the pipeline stores or converts.
func IsImageFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedImageExtensions[ext]
}
