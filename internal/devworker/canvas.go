package devworker

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"brand-asset-orchestrator/internal/webhook"
)

const maxLayerWidth = 512

// handleCanvasLayer cuts the target rectangle out of the original canvas,
// scales it down to a layer preview and marks where the text sits.
func (w *Worker) handleCanvasLayer(ctx context.Context, p webhook.Payload) (Result, error) {
	if p.Metadata == nil || !p.Metadata.Rectangle.Valid() {
		return Result{}, permanent("canvas metadata with a valid rectangle is required")
	}
	src, format, err := w.fetchImage(ctx, p.Metadata.OriginalURL)
	if err != nil {
		return Result{}, err
	}

	r := p.Metadata.Rectangle
	b := src.Bounds()
	area := image.Rect(b.Min.X+r[0], b.Min.Y+r[1], b.Min.X+r[2], b.Min.Y+r[3]).Intersect(b)
	if area.Empty() {
		return Result{}, permanent("rectangle lies outside the canvas")
	}
	crop := imaging.Crop(src, area)

	layer := scaleToWidth(crop, maxLayerWidth)
	lb := layer.Bounds()
	band := imaging.New(lb.Dx(), max(1, lb.Dy()/4), color.NRGBA{A: 255})
	layer = imaging.Overlay(layer, band, image.Pt(0, lb.Dy()-band.Bounds().Dy()), 0.5)

	url, err := w.upload(ctx, p, "layer."+formatExtension(format), layer, format)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ResultURL: &url,
		Result: map[string]any{
			"text_layer": p.TextLayer,
			"type":       p.Metadata.Type,
			"rectangle":  []int{area.Min.X - b.Min.X, area.Min.Y - b.Min.Y, area.Max.X - b.Min.X, area.Max.Y - b.Min.Y},
		},
	}, nil
}

// scaleToWidth shrinks src to at most width pixels wide, keeping aspect.
func scaleToWidth(src image.Image, width int) image.Image {
	sb := src.Bounds()
	if sb.Dx() <= width {
		return src
	}
	height := int(float64(sb.Dy()) * float64(width) / float64(sb.Dx()))
	if height == 0 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	return dst
}
