package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewObjectKey derives a globally unique storage key for an uploaded file:
// a random UUID prefix joined to the sanitized original filename.
func NewObjectKey(filename string) string {
	return fmt.Sprintf("%s_%s", uuid.NewString(), SanitizeFilename(filename))
}

// SanitizeFilename strips directory components and replaces anything
// outside [a-zA-Z0-9._-] so user-supplied names are safe as object keys.
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "file"
	}
	return base
}

// SidecarKey maps an image key to its JSON metadata sidecar key by
// replacing the extension with .json.
func SidecarKey(key string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + ".json"
}
