package devworker

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"brand-asset-orchestrator/internal/webhook"
)

const placeholderSize = 512

// handleGeneration renders a deterministic placeholder for the prompt.
func (w *Worker) handleGeneration(ctx context.Context, p webhook.Payload) (Result, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return Result{}, permanent("prompt is required")
	}
	bg := promptColor(prompt)
	img := imaging.New(placeholderSize, placeholderSize, bg)
	inner := imaging.New(placeholderSize/2, placeholderSize/2, lighten(bg, 0.35))
	img = imaging.Paste(img, inner, image.Pt(placeholderSize/4, placeholderSize/4))

	url, err := w.upload(ctx, p, "generated.png", img, imaging.PNG)
	if err != nil {
		return Result{}, err
	}
	return Result{ResultURL: &url, Result: map[string]any{"prompt": prompt}}, nil
}

// handleSegmentation splits the source image into equal vertical strips.
func (w *Worker) handleSegmentation(ctx context.Context, p webhook.Payload) (Result, error) {
	if p.SegmentCount < 2 || p.SegmentCount > 8 {
		return Result{}, permanent("segment_count must be between 2 and 8")
	}
	src, format, err := w.fetchImage(ctx, p.ImageURL)
	if err != nil {
		return Result{}, err
	}
	b := src.Bounds()
	if b.Dx() < p.SegmentCount {
		return Result{}, permanent("image too narrow for %d segments", p.SegmentCount)
	}

	items := make([]string, 0, p.SegmentCount)
	for i := 0; i < p.SegmentCount; i++ {
		x0 := b.Min.X + i*b.Dx()/p.SegmentCount
		x1 := b.Min.X + (i+1)*b.Dx()/p.SegmentCount
		part := imaging.Crop(src, image.Rect(x0, b.Min.Y, x1, b.Max.Y))
		url, err := w.upload(ctx, p, fmt.Sprintf("segment-%d.%s", i+1, formatExtension(format)), part, format)
		if err != nil {
			return Result{}, err
		}
		items = append(items, url)
	}
	return Result{ResultItems: items}, nil
}

// handleQualityCheck computes simple technical checks on the image.
func (w *Worker) handleQualityCheck(ctx context.Context, p webhook.Payload) (Result, error) {
	src, _, err := w.fetchImage(ctx, p.ImageURL)
	if err != nil {
		return Result{}, err
	}
	return Result{Result: qualityReport(src)}, nil
}

func qualityReport(src image.Image) map[string]any {
	b := src.Bounds()
	gray := imaging.Grayscale(src)
	var sum, sumSq float64
	n := float64(b.Dx() * b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := gray.At(x-b.Min.X, y-b.Min.Y).RGBA()
			v := float64(r) / 0xffff
			sum += v
			sumSq += v * v
		}
	}
	brightness := sum / n
	contrast := math.Sqrt(math.Max(0, sumSq/n-brightness*brightness))

	checks := []map[string]any{
		{"name": "min_resolution", "passed": b.Dx() >= 256 && b.Dy() >= 256},
		{"name": "brightness", "passed": brightness >= 0.15 && brightness <= 0.9},
		{"name": "contrast", "passed": contrast >= 0.05},
	}
	passed := 0
	for _, c := range checks {
		if c["passed"].(bool) {
			passed++
		}
	}
	return map[string]any{
		"width":      b.Dx(),
		"height":     b.Dy(),
		"brightness": round2(brightness),
		"contrast":   round2(contrast),
		"checks":     checks,
		"score":      round2(float64(passed) / float64(len(checks))),
	}
}

func (w *Worker) fetchImage(ctx context.Context, url string) (image.Image, imaging.Format, error) {
	if strings.TrimSpace(url) == "" {
		return nil, imaging.PNG, permanent("image_url is required")
	}
	data, contentType, err := w.download(ctx, url)
	if err != nil {
		return nil, imaging.PNG, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, imaging.PNG, permanent("decode image: %v", err)
	}
	return img, chooseFormat(format, contentType), nil
}

func (w *Worker) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", permanent("build request: %v", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", permanent("download image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxDownload+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > w.maxDownload {
		return nil, "", permanent("image too large (>%d bytes)", w.maxDownload)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// upload encodes img and stores it under the job's output prefix.
func (w *Worker) upload(ctx context.Context, p webhook.Payload, name string, img image.Image, format imaging.Format) (string, error) {
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return "", permanent("encode image: %v", err)
	}
	key := fmt.Sprintf("results/%s/%s/%s", p.Type, p.JobID, name)
	url, err := w.objects.Put(ctx, key, buf.Bytes(), mimeForFormat(format))
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return url, nil
}

func promptColor(prompt string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(prompt)))
	v := h.Sum32()
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

func lighten(c color.NRGBA, f float64) color.NRGBA {
	mix := func(v uint8) uint8 { return uint8(float64(v) + (255-float64(v))*f) }
	return color.NRGBA{R: mix(c.R), G: mix(c.G), B: mix(c.B), A: c.A}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func chooseFormat(decodeFormat, contentType string) imaging.Format {
	switch strings.ToLower(decodeFormat) {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	case "jpeg":
		return imaging.JPEG
	}
	if strings.Contains(strings.ToLower(contentType), "png") {
		return imaging.PNG
	}
	return imaging.JPEG
}

func formatExtension(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	default:
		return "jpg"
	}
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
