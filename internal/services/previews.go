package services

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrPreviewNotFound is returned when a preview was never acquired or has been released.
var ErrPreviewNotFound = errors.New("preview not found")

// PreviewPathPrefix is the path under which previews are served. Preview URLs handed out by the
// stores are this prefix followed by the preview id.
const PreviewPathPrefix = "/previews/"

func newPreviewID() string {
	return uuid.New().String()
}

func previewURL(id string) string {
	return PreviewPathPrefix + id
}

func previewID(url string) (string, bool) {
	id, ok := strings.CutPrefix(url, PreviewPathPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
