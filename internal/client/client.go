package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/models"
)

// Options configures a Client. Token wins over UserID when both are set.
type Options struct {
	BaseURL    string
	Token      string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the dashboard API. Its GetJob and GetLog make it usable as
// a watch.Reader for client-side reconciliation.
type Client struct {
	base   string
	token  string
	userID string
	http   *http.Client
}

// Accepted is the body returned for a queued job.
type Accepted struct {
	Success  bool           `json:"success"`
	Kind     models.JobKind `json:"kind"`
	JobID    string         `json:"job_id"`
	LogID    string         `json:"log_id"`
	BrandID  *string        `json:"brand_id,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
}

// New constructs a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		userID: opts.UserID,
		http:   hc,
	}
}

// Submit posts a JSON submission for kind.
func (c *Client) Submit(ctx context.Context, kind models.JobKind, body any) (Accepted, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Accepted{}, err
	}
	var out Accepted
	err = c.do(ctx, http.MethodPost, "/jobs/"+kind.Slug(), bytes.NewReader(raw), "application/json", &out)
	return out, err
}

// SubmitUpload posts a multipart submission carrying an image file.
func (c *Client) SubmitUpload(ctx context.Context, kind models.JobKind, filename string, data []byte, fields map[string]string) (Accepted, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return Accepted{}, err
		}
	}
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return Accepted{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Accepted{}, err
	}
	if err := mw.Close(); err != nil {
		return Accepted{}, err
	}
	var out Accepted
	err = c.do(ctx, http.MethodPost, "/jobs/"+kind.Slug(), &buf, mw.FormDataContentType(), &out)
	return out, err
}

// GetJob fetches one job record.
func (c *Client) GetJob(ctx context.Context, kind models.JobKind, id string) (models.JobRecord, error) {
	var job models.JobRecord
	err := c.do(ctx, http.MethodGet, "/jobs/"+kind.Slug()+"/"+url.PathEscape(id), nil, "", &job)
	return job, err
}

// GetLog fetches one workflow log entry.
func (c *Client) GetLog(ctx context.Context, id string) (models.WorkflowLogEntry, error) {
	var entry models.WorkflowLogEntry
	err := c.do(ctx, http.MethodGet, "/logs/"+url.PathEscape(id), nil, "", &entry)
	return entry, err
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.userID != "":
		req.Header.Set(auth.DevUserHeader, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errorForStatus(resp.StatusCode, msg)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorForStatus rebuilds the server's error kind from its status code.
func errorForStatus(code int, msg string) error {
	switch code {
	case http.StatusBadRequest:
		return apperr.Client(msg)
	case http.StatusUnauthorized:
		return apperr.Unauthorized(msg)
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusTooManyRequests:
		return apperr.Clientf("%s", msg)
	case http.StatusServiceUnavailable:
		return apperr.Config(msg)
	case http.StatusBadGateway:
		return apperr.Dispatch(msg, nil)
	case http.StatusGatewayTimeout:
		return apperr.Timeout(msg)
	default:
		return apperr.Internal(msg, fmt.Errorf("status %d", code))
	}
}
