package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brand-asset-orchestrator/internal/models"
)

// CanvasMetadata describes the canvas region a layer job operates on.
type CanvasMetadata struct {
	Type        string           `json:"type"`
	Rectangle   models.Rectangle `json:"rectangle"`
	OriginalURL string           `json:"original_url"`
}

// Payload is the JSON body posted to the external worker. Exactly one of the
// kind-specific id keys is set, mirroring the job record id.
type Payload struct {
	Type           models.JobKind  `json:"type"`
	JobID          string          `json:"job_id"`
	ImageID        string          `json:"image_id,omitempty"`
	SegmentationID string          `json:"segmentation_id,omitempty"`
	CheckID        string          `json:"check_id,omitempty"`
	LayerID        string          `json:"layer_id,omitempty"`
	LogID          string          `json:"log_id"`
	UserID         string          `json:"user_id"`
	BrandID        string          `json:"brand_id,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	SegmentCount   int             `json:"segment_count,omitempty"`
	TextLayer      string          `json:"text_layer,omitempty"`
	Metadata       *CanvasMetadata `json:"metadata,omitempty"`
}

// SetJobID fills the generic and the kind-specific id fields.
func (p *Payload) SetJobID(kind models.JobKind, id string) {
	p.Type = kind
	p.JobID = id
	switch kind {
	case models.KindGeneration:
		p.ImageID = id
	case models.KindSegmentation:
		p.SegmentationID = id
	case models.KindQualityCheck:
		p.CheckID = id
	case models.KindCanvasLayer:
		p.LayerID = id
	}
}

// Error describes a failed dispatch. StatusCode is zero when no response was received.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCodeOf returns the HTTP status carried by a dispatch error, or
// 502 when the request never produced a response.
func StatusCodeOf(err error) int {
	var werr *Error
	if errors.As(err, &werr) && werr.StatusCode >= 400 {
		return werr.StatusCode
	}
	return http.StatusBadGateway
}

// Options configure a Gateway.
type Options struct {
	Timeout time.Duration
	Client  *http.Client
}

// Gateway posts job payloads to the external worker. It makes exactly one
// attempt per call; retry policy belongs to the caller.
type Gateway struct {
	client *http.Client
}

// New builds a gateway with a bounded http client.
func New(opts Options) *Gateway {
	hc := opts.Client
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Gateway{client: hc}
}

// Dispatch posts payload to url and waits for the response. Any transport
// error or non-2xx status is returned as *Error.
func (g *Gateway) Dispatch(ctx context.Context, url string, payload Payload) error {
	if strings.TrimSpace(url) == "" {
		return &Error{Err: errors.New("webhook url is empty")}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Err: fmt.Errorf("encode payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return nil
}
