package photo

import (
	"path/filepath"
	"strings"
)

// Ext returns the lower-case extension of name without the dot.
func Ext(name string) string {
	ext := filepath.Ext(name)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// MimeType maps a filename to the content type sent to collaborators.
// Unknown extensions are reported as JPEG.
func MimeType(name string) string {
	switch Ext(name) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// EnsureExt appends ".jpg" to names that carry no extension.
func EnsureExt(name string) string {
	if name == "" {
		return "image.jpg"
	}
	if Ext(name) == "" {
		return name + ".jpg"
	}
	return name
}

// ReplaceExt swaps the extension of name for ext (without dot).
func ReplaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + ext
}
