package submit

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"brand-asset-orchestrator/internal/apperr"
)

// imageInfo is what inspection learns about an upload.
type imageInfo struct {
	ContentType string
	Width       int
	Height      int
}

// inspectUpload rejects empty, oversized and non-image payloads before any
// side effect happens.
func inspectUpload(u *Upload, maxBytes int64) (imageInfo, error) {
	if u == nil || len(u.Data) == 0 {
		return imageInfo{}, apperr.Client("No image provided")
	}
	if maxBytes > 0 && int64(len(u.Data)) > maxBytes {
		return imageInfo{}, apperr.Clientf("Image too large (max %d bytes)", maxBytes)
	}
	ct := u.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(u.Data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return imageInfo{}, apperr.Client("Uploaded file is not an image")
	}
	img, err := imaging.Decode(bytes.NewReader(u.Data))
	if err != nil {
		return imageInfo{}, apperr.Client("Uploaded file is not a readable image")
	}
	b := img.Bounds()
	return imageInfo{ContentType: ct, Width: b.Dx(), Height: b.Dy()}, nil
}
