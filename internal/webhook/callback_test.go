package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/models"
)

func TestReporterPostsCallback(t *testing.T) {
	var got Callback
	var token, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get(TokenHeader)
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := "https://x/y.png"
	err := NewReporter(srv.URL+"/", "secret", 0).Report(context.Background(), Callback{
		Type: models.KindGeneration, JobID: "job-1", LogID: "log-1", ExecutionStatus: "200", ResultURL: &url,
	})
	require.NoError(t, err)
	assert.Equal(t, "secret", token)
	assert.Equal(t, CallbackPath, path)
	assert.Equal(t, "job-1", got.JobID)
	require.NotNil(t, got.ResultURL)
	assert.Equal(t, url, *got.ResultURL)
}

func TestReporterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewReporter(srv.URL, "wrong", 0).Report(context.Background(), Callback{})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCodeOf(err))
}
