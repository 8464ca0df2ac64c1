package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/models"
)

func TestDispatchPostsJSON(t *testing.T) {
	var got map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := Payload{LogID: "log-1", UserID: "user-1", BrandID: "brand-1", Prompt: "sunset"}
	p.SetJobID(models.KindGeneration, "job-1")

	require.NoError(t, New(Options{}).Dispatch(context.Background(), srv.URL, p))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "job-1", got["image_id"])
	assert.Equal(t, "log-1", got["log_id"])
	assert.Equal(t, "sunset", got["prompt"])
	assert.Equal(t, "generation", got["type"])
	assert.NotContains(t, got, "segmentation_id")
	assert.NotContains(t, got, "metadata")
}

func TestDispatchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "workflow inactive", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(Options{}).Dispatch(context.Background(), srv.URL, Payload{})
	require.Error(t, err)

	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusNotFound, werr.StatusCode)
	assert.Equal(t, "workflow inactive", werr.Body)
	assert.Equal(t, http.StatusNotFound, StatusCodeOf(err))
}

func TestDispatchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(Options{}).Dispatch(context.Background(), url, Payload{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCodeOf(err))
}

func TestDispatchSingleAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(Options{}).Dispatch(context.Background(), srv.URL, Payload{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSetJobIDCanvas(t *testing.T) {
	p := Payload{Metadata: &CanvasMetadata{Type: "text", Rectangle: models.Rectangle{1, 2, 30, 40}, OriginalURL: "https://x/o.png"}}
	p.SetJobID(models.KindCanvasLayer, "layer-1")

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"canvas_layer","job_id":"layer-1","layer_id":"layer-1","log_id":"","user_id":"",
		"metadata":{"type":"text","rectangle":[1,2,30,40],"original_url":"https://x/o.png"}
	}`, string(raw))
}
