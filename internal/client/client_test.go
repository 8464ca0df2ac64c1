package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/models"
)

func TestSubmitSendsIdentity(t *testing.T) {
	var gotPath, gotUser, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get(auth.DevUserHeader)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"kind":"quality_check","job_id":"j1","log_id":"l1"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", UserID: "user-1"})
	acc, err := c.Submit(context.Background(), models.KindQualityCheck, map[string]string{"image_url": "https://x/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "/jobs/quality-check", gotPath)
	assert.Equal(t, "user-1", gotUser)
	assert.Empty(t, gotAuth)
	assert.Equal(t, "https://x/a.png", gotBody["image_url"])
	assert.Equal(t, "j1", acc.JobID)
	assert.Equal(t, "l1", acc.LogID)

	c = New(Options{BaseURL: srv.URL, Token: "tok", UserID: "ignored"})
	_, err = c.Submit(context.Background(), models.KindQualityCheck, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, gotUser)
}

func TestSubmitUploadIsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "4", r.FormValue("segment_count"))
		_, header, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "logo.png", header.Filename)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"job_id":"s1","log_id":"l1"}`))
	}))
	defer srv.Close()

	acc, err := New(Options{BaseURL: srv.URL, UserID: "u"}).SubmitUpload(context.Background(), models.KindSegmentation, "logo.png", []byte("img"), map[string]string{"segment_count": "4", "brand_id": ""})
	require.NoError(t, err)
	assert.Equal(t, "s1", acc.JobID)
}

func TestErrorsKeepKind(t *testing.T) {
	tests := []struct {
		code int
		kind apperr.Kind
	}{
		{http.StatusBadRequest, apperr.KindClient},
		{http.StatusUnauthorized, apperr.KindUnauthorized},
		{http.StatusNotFound, apperr.KindNotFound},
		{http.StatusServiceUnavailable, apperr.KindConfig},
		{http.StatusBadGateway, apperr.KindDispatch},
		{http.StatusInternalServerError, apperr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"success":false,"error":"boom"}`))
			}))
			defer srv.Close()

			_, err := New(Options{BaseURL: srv.URL}).GetLog(context.Background(), "l1")
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, "boom", apperr.PublicMessage(err))
		})
	}
}

func TestGetJobDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/canvas-layer/c1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"c1","kind":"canvas_layer","status":"completed","result_url":"https://x/l.png"}`))
	}))
	defer srv.Close()

	job, err := New(Options{BaseURL: srv.URL}).GetJob(context.Background(), models.KindCanvasLayer, "c1")
	require.NoError(t, err)
	assert.Equal(t, "completed", job.Status)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "https://x/l.png", *job.ResultURL)
}
