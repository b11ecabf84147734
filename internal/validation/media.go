// Package validation holds input rules shared by the HTTP and live-channel boundaries.
package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"messenger/internal/models"
)

// allowedMedia maps a permitted file extension to the MIME types it may be
// declared with and the resulting media kind.
var allowedMedia = map[string]struct {
	mimeTypes []string
	kind      models.MediaKind
}{
	".jpg":  {[]string{"image/jpeg", "image/jpg"}, models.MediaImage},
	".jpeg": {[]string{"image/jpeg", "image/jpg"}, models.MediaImage},
	".png":  {[]string{"image/png"}, models.MediaImage},
	".mp4":  {[]string{"video/mp4"}, models.MediaVideo},
}

// ClassifyMedia checks a file name and its declared content type against the
// allow-list. Both must pass. It returns the normalized extension and kind.
func ClassifyMedia(filename, contentType string) (string, models.MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	entry, ok := allowedMedia[ext]
	if !ok {
		return "", "", models.NewUnsupportedMediaTypeError(
			fmt.Sprintf("file extension %q is not allowed; use jpg, jpeg, png or mp4", ext))
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", models.NewUnsupportedMediaTypeError("missing or malformed content type")
	}
	mediaType = strings.ToLower(mediaType)

	for _, allowed := range entry.mimeTypes {
		if mediaType == allowed {
			return ext, entry.kind, nil
		}
	}
	return "", "", models.NewUnsupportedMediaTypeError(
		fmt.Sprintf("content type %q does not match extension %q", mediaType, ext))
}
