package devworker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/objectstore"
	"brand-asset-orchestrator/internal/webhook"
)

type recordingReporter struct {
	mu    sync.Mutex
	calls []webhook.Callback
	done  chan webhook.Callback
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{done: make(chan webhook.Callback, 8)}
}

func (r *recordingReporter) Report(_ context.Context, cb webhook.Callback) error {
	r.mu.Lock()
	r.calls = append(r.calls, cb)
	r.mu.Unlock()
	if cb.ExecutionStatus != models.ExecutionRunning {
		r.done <- cb
	}
	return nil
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: 80, B: uint8(y * 255 / h), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T) (*Worker, *recordingReporter, string) {
	t.Helper()
	dir := t.TempDir()
	rep := newRecordingReporter()
	w, err := New(Options{
		Objects:        objectstore.NewLocal(dir, "http://cdn.test/objects"),
		Reporter:       rep,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	})
	require.NoError(t, err)
	return w, rep, dir
}

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

func TestSegmentationSplitsIntoStrips(t *testing.T) {
	w, _, dir := newTestWorker(t)
	srv := imageServer(t, testImage(t, 90, 30))

	res, err := w.handleSegmentation(context.Background(), webhook.Payload{
		Type: models.KindSegmentation, JobID: "seg-1", ImageURL: srv.URL + "/a.png", SegmentCount: 3,
	})
	require.NoError(t, err)
	require.Len(t, res.ResultItems, 3)
	assert.Equal(t, "http://cdn.test/objects/results/segmentation/seg-1/segment-1.png", res.ResultItems[0])

	strip := decodeFile(t, filepath.Join(dir, "results", "segmentation", "seg-1", "segment-2.png"))
	assert.Equal(t, 30, strip.Bounds().Dx())
	assert.Equal(t, 30, strip.Bounds().Dy())
}

func TestGenerationIsDeterministic(t *testing.T) {
	w, _, dir := newTestWorker(t)

	res, err := w.handleGeneration(context.Background(), webhook.Payload{Type: models.KindGeneration, JobID: "img-1", Prompt: "sunset"})
	require.NoError(t, err)
	require.NotNil(t, res.ResultURL)
	assert.True(t, strings.HasSuffix(*res.ResultURL, "/results/generation/img-1/generated.png"))

	img := decodeFile(t, filepath.Join(dir, "results", "generation", "img-1", "generated.png"))
	assert.Equal(t, placeholderSize, img.Bounds().Dx())
	assert.Equal(t, promptColor("Sunset"), promptColor("sunset"))

	_, err = w.handleGeneration(context.Background(), webhook.Payload{Type: models.KindGeneration, JobID: "img-2"})
	assert.True(t, isPermanent(err))
}

func TestCanvasLayerCropsRectangle(t *testing.T) {
	w, _, dir := newTestWorker(t)
	srv := imageServer(t, testImage(t, 1200, 400))

	res, err := w.handleCanvasLayer(context.Background(), webhook.Payload{
		Type: models.KindCanvasLayer, JobID: "layer-1", TextLayer: "Summer Sale",
		Metadata: &webhook.CanvasMetadata{Type: "text", Rectangle: models.Rectangle{100, 50, 1100, 250}, OriginalURL: srv.URL + "/c.png"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.ResultURL)
	assert.Equal(t, "Summer Sale", res.Result["text_layer"])

	layer := decodeFile(t, filepath.Join(dir, "results", "canvas_layer", "layer-1", "layer.png"))
	assert.Equal(t, maxLayerWidth, layer.Bounds().Dx())
	assert.Equal(t, 102, layer.Bounds().Dy())
}

func TestCanvasLayerRejectsOutsideRectangle(t *testing.T) {
	w, _, _ := newTestWorker(t)
	srv := imageServer(t, testImage(t, 50, 50))

	_, err := w.handleCanvasLayer(context.Background(), webhook.Payload{
		Metadata: &webhook.CanvasMetadata{Rectangle: models.Rectangle{100, 100, 200, 200}, OriginalURL: srv.URL + "/c.png"},
	})
	assert.True(t, isPermanent(err))
}

func TestQualityReport(t *testing.T) {
	report := qualityReport(imagingGray(300, 300, 128))
	assert.Equal(t, 300, report["width"])
	assert.InDelta(t, 0.5, report["brightness"].(float64), 0.02)
	assert.Equal(t, 0.0, report["contrast"])
	assert.InDelta(t, 0.67, report["score"].(float64), 0.01)
}

func imagingGray(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestProcessReportsRunningThenResult(t *testing.T) {
	w, rep, _ := newTestWorker(t)
	srv := imageServer(t, testImage(t, 40, 40))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, w.Enqueue(webhook.Payload{Type: models.KindQualityCheck, JobID: "chk-1", LogID: "log-1", ImageURL: srv.URL + "/q.png"}))

	select {
	case cb := <-rep.done:
		assert.Equal(t, models.ExecutionSucceeded, cb.ExecutionStatus)
		assert.Equal(t, "chk-1", cb.JobID)
		assert.Equal(t, "log-1", cb.LogID)
		assert.Contains(t, cb.Result, "score")
	case <-time.After(5 * time.Second):
		t.Fatal("no final report")
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.GreaterOrEqual(t, len(rep.calls), 2)
	assert.Equal(t, models.ExecutionRunning, rep.calls[0].ExecutionStatus)
}

func TestProcessReportsPermanentFailureWithoutRetry(t *testing.T) {
	w, rep, _ := newTestWorker(t)
	srv := imageServer(t, testImage(t, 40, 40))

	w.process(context.Background(), webhook.Payload{Type: models.KindSegmentation, JobID: "seg-9", LogID: "log-9", ImageURL: srv.URL + "/missing.png", SegmentCount: 2})

	cb := <-rep.done
	assert.Equal(t, models.ExecutionError, cb.ExecutionStatus)
	assert.Contains(t, cb.Message, "status 404")
}

func TestRunJobRetriesTransientErrors(t *testing.T) {
	w, _, _ := newTestWorker(t)
	attempts := 0
	w.RegisterHandler(models.KindGeneration, func(context.Context, webhook.Payload) (Result, error) {
		attempts++
		if attempts < 3 {
			return Result{}, errors.New("upload: connection reset")
		}
		return Result{}, nil
	})

	_, err := w.runJob(context.Background(), webhook.Payload{Type: models.KindGeneration})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWebhookEndpoint(t *testing.T) {
	w, _, _ := newTestWorker(t)
	h := w.Router()

	send := func(path, body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, send("/webhook", `{"type":"generation","job_id":"j","log_id":"l","prompt":"x"}`))
	assert.Equal(t, http.StatusAccepted, send("/webhook/quality-check", `{"job_id":"j","log_id":"l","image_url":"http://x"}`))
	assert.Equal(t, http.StatusBadRequest, send("/webhook", `{"type":"video","job_id":"j","log_id":"l"}`))
	assert.Equal(t, http.StatusBadRequest, send("/webhook", `{"type":"generation","job_id":"j"}`))
	assert.Equal(t, http.StatusBadRequest, send("/webhook", `nope`))

	queued := <-w.queue
	assert.Equal(t, models.KindGeneration, queued.Type)
	queued = <-w.queue
	assert.Equal(t, models.KindQualityCheck, queued.Type)
}

func TestEnqueueFull(t *testing.T) {
	w, err := New(Options{Objects: objectstore.NewLocal(t.TempDir(), ""), Reporter: newRecordingReporter(), QueueSize: 1})
	require.NoError(t, err)
	require.NoError(t, w.Enqueue(webhook.Payload{}))
	assert.ErrorIs(t, w.Enqueue(webhook.Payload{}), ErrQueueFull)
}
