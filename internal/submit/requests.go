package submit

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/models"
)

// Upload is a binary image supplied with a request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GenerationRequest asks the worker to generate an image from a prompt.
type GenerationRequest struct {
	UserID  string
	BrandID string
	Prompt  string `validate:"required"`
}

// SegmentationRequest asks the worker to split an image into segments.
// Exactly one of Image or ImageURL is expected.
type SegmentationRequest struct {
	UserID       string
	BrandID      string
	SegmentCount int     `validate:"min=2,max=8"`
	Image        *Upload `validate:"-"`
	ImageURL     string  `validate:"required_without=Image,omitempty,url"`
}

// QualityCheckRequest asks the worker for a brand compliance report on an image.
type QualityCheckRequest struct {
	UserID   string
	BrandID  string
	Image    *Upload `validate:"-"`
	ImageURL string  `validate:"required_without=Image,omitempty,url"`
}

// CanvasLayerRequest asks the worker to render a layer onto a canvas region.
type CanvasLayerRequest struct {
	UserID      string
	BrandID     string
	LayerType   string
	TextLayer   string           `validate:"required"`
	OriginalURL string           `validate:"required,url"`
	Rectangle   models.Rectangle `validate:"-"`
}

var validate = validator.New()

var fieldMessages = map[string]string{
	"Prompt":       "Prompt is required",
	"SegmentCount": "Invalid segment count (must be 2-8)",
	"TextLayer":    "Text layer is required",
	"OriginalURL":  "A valid original image URL is required",
}

// validateStruct runs tag validation and converts the first failure into a
// client error with a user-facing message.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Client("Invalid request")
	}
	fe := fieldErrs[0]
	if fe.Field() == "ImageURL" {
		if fe.Tag() == "required_without" {
			return apperr.Client("No image provided")
		}
		return apperr.Client("Invalid image URL")
	}
	if msg, ok := fieldMessages[fe.Field()]; ok {
		return apperr.Client(msg)
	}
	return apperr.Clientf("Invalid %s", fe.Field())
}
