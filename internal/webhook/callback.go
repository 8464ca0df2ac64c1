package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brand-asset-orchestrator/internal/models"
)

// TokenHeader carries the shared secret on worker callbacks.
const TokenHeader = "X-Worker-Token"

// CallbackPath is where the API accepts worker reports.
const CallbackPath = "/worker/callback"

// Callback is what a worker without database access reports back. Status
// may be left empty, in which case it is derived from ExecutionStatus.
type Callback struct {
	Type            models.JobKind `json:"type"`
	JobID           string         `json:"job_id"`
	LogID           string         `json:"log_id"`
	Status          string         `json:"status,omitempty"`
	ExecutionStatus string         `json:"execution_status"`
	ResultURL       *string        `json:"result_url,omitempty"`
	ResultItems     []string       `json:"result_items,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Message         string         `json:"message,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Reporter posts callbacks to the API.
type Reporter struct {
	url    string
	token  string
	client *http.Client
}

// NewReporter builds a Reporter for the API at baseURL.
func NewReporter(baseURL, token string, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reporter{
		url:    strings.TrimRight(baseURL, "/") + CallbackPath,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Report sends one callback. Non-2xx answers are returned as *Error.
func (r *Reporter) Report(ctx context.Context, cb Callback) error {
	body, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
