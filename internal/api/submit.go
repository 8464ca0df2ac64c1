package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/submit"
)

type submitResponse struct {
	Success  bool           `json:"success"`
	Kind     models.JobKind `json:"kind"`
	JobID    string         `json:"job_id"`
	LogID    string         `json:"log_id"`
	BrandID  *string        `json:"brand_id,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
}

func (s *Server) respondSubmission(w http.ResponseWriter, r *http.Request, sub submit.Submission, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		Success:  true,
		Kind:     sub.Kind,
		JobID:    sub.JobID,
		LogID:    sub.LogID,
		BrandID:  sub.BrandID,
		ImageURL: sub.ImageURL,
	})
}

type generationBody struct {
	Prompt  string `json:"prompt"`
	BrandID string `json:"brand_id"`
}

func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var body generationBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.submitter.SubmitGeneration(r.Context(), submit.GenerationRequest{
		UserID:  auth.UserFrom(r.Context()),
		BrandID: body.BrandID,
		Prompt:  body.Prompt,
	})
	s.respondSubmission(w, r, sub, err)
}

type imageBody struct {
	ImageURL     string `json:"image_url"`
	SegmentCount int    `json:"segment_count"`
	BrandID      string `json:"brand_id"`
}

// readImageRequest accepts either a multipart upload or a JSON body that
// references an already stored image.
func (s *Server) readImageRequest(w http.ResponseWriter, r *http.Request) (imageBody, *submit.Upload, error) {
	var body imageBody
	if !isMultipart(r) {
		err := decodeJSON(r, &body)
		return body, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return body, nil, apperr.Client("Image too large")
		}
		return body, nil, apperr.Client("Invalid multipart form")
	}
	body.ImageURL = r.FormValue("image_url")
	body.BrandID = r.FormValue("brand_id")
	if v := strings.TrimSpace(r.FormValue("segment_count")); v != "" {
		// Non-numeric counts fall through as zero and fail range validation.
		body.SegmentCount, _ = strconv.Atoi(v)
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return body, nil, nil
	}
	if err != nil {
		return body, nil, apperr.Client("Invalid image upload")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return body, nil, apperr.Client("Invalid image upload")
	}
	return body, &submit.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) handleSubmitSegmentation(w http.ResponseWriter, r *http.Request) {
	body, upload, err := s.readImageRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.submitter.SubmitSegmentation(r.Context(), submit.SegmentationRequest{
		UserID:       auth.UserFrom(r.Context()),
		BrandID:      body.BrandID,
		SegmentCount: body.SegmentCount,
		Image:        upload,
		ImageURL:     body.ImageURL,
	})
	s.respondSubmission(w, r, sub, err)
}

func (s *Server) handleSubmitQualityCheck(w http.ResponseWriter, r *http.Request) {
	body, upload, err := s.readImageRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.submitter.SubmitQualityCheck(r.Context(), submit.QualityCheckRequest{
		UserID:   auth.UserFrom(r.Context()),
		BrandID:  body.BrandID,
		Image:    upload,
		ImageURL: body.ImageURL,
	})
	s.respondSubmission(w, r, sub, err)
}

type canvasBody struct {
	TextLayer   string           `json:"text_layer"`
	OriginalURL string           `json:"original_url"`
	Rectangle   models.Rectangle `json:"rectangle"`
	Type        string           `json:"type"`
	BrandID     string           `json:"brand_id"`
}

func (s *Server) handleSubmitCanvasLayer(w http.ResponseWriter, r *http.Request) {
	var body canvasBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.submitter.SubmitCanvasLayer(r.Context(), submit.CanvasLayerRequest{
		UserID:      auth.UserFrom(r.Context()),
		BrandID:     body.BrandID,
		LayerType:   body.Type,
		TextLayer:   body.TextLayer,
		OriginalURL: body.OriginalURL,
		Rectangle:   body.Rectangle,
	})
	s.respondSubmission(w, r, sub, err)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Client("Invalid JSON body")
	}
	return nil
}
