// Package capture turns a Region into a cropped PNG.
//
// The stages run in a fixed order: capture the viewport, decode it, crop it,
// encode the crop. Each stage returns its result or an error; the first error
// stops the pipeline and nothing partial is returned.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"math"

	"golang.org/x/image/draw"

	"region-capture/src/screenshot"
)

// FormatPNG is the only raster format the pipeline requests and produces.
const FormatPNG = "png"

var (
	// ErrDecode is returned when the raw capture cannot be turned into pixels.
	ErrDecode = errors.New("decode capture")

	ErrNoActiveTarget     = screenshot.ErrNoActiveTarget
	ErrCaptureUnavailable = screenshot.ErrCaptureUnavailable
	ErrInvalidRegion      = screenshot.ErrInvalidRegion
)

// Viewport is the host capture API: one full-viewport snapshot per call,
// returned as a data URL.
type Viewport interface {
	CaptureVisible(ctx context.Context, format string) (string, error)
}

// RawCapture is the unprocessed viewport snapshot as delivered by the host.
type RawCapture string

// Encoded is the cropped image as a PNG data URL.
type Encoded string

// Pipeline runs capture → decode → crop → encode against a Viewport.
type Pipeline struct {
	viewport Viewport
	scale    float64
}

// New returns a pipeline. scale converts region coordinates into device pixels.
func New(viewport Viewport, scale float64) *Pipeline {
	if !(scale > 0) || math.IsInf(scale, 0) {
		scale = 1
	}
	return &Pipeline{viewport: viewport, scale: scale}
}

// Capture produces the cropped image for region. A zero-area region is a
// benign no-op: it returns empty=true and a nil error without capturing.
func (p *Pipeline) Capture(ctx context.Context, region screenshot.Region) (Encoded, bool, error) {
	if err := region.Validate(); err != nil {
		return "", false, err
	}
	rect := region.Bounds(p.scale)
	if region.Empty() || rect.Empty() {
		log.Printf("capture: zero-area region %+v, nothing to do", region)
		return "", true, nil
	}
	if rect.Dx() > screenshot.MaxDimension || rect.Dy() > screenshot.MaxDimension {
		return "", false, fmt.Errorf("%w: %v at scale %g exceeds %d device pixels", ErrInvalidRegion, rect, p.scale, screenshot.MaxDimension)
	}

	raw, err := p.CaptureViewport(ctx)
	if err != nil {
		return "", false, err
	}
	src, err := Decode(ctx, raw)
	if err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	cropped := Crop(src, rect)
	out, err := Encode(cropped)
	if err != nil {
		return "", false, err
	}

	log.Printf("capture: region %v cropped from %v", rect, src.Bounds())
	return out, false, nil
}

// CaptureViewport requests a fresh snapshot. Results are never cached because
// the viewport may change between captures.
func (p *Pipeline) CaptureViewport(ctx context.Context) (RawCapture, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	url, err := p.viewport.CaptureVisible(ctx, FormatPNG)
	if err != nil {
		return "", fmt.Errorf("capture viewport: %w", err)
	}
	return RawCapture(url), nil
}

// Decode parses a data URL capture into an addressable pixel buffer.
func Decode(ctx context.Context, raw RawCapture) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := screenshot.DecodeDataURL(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Crop copies the src pixels under r onto a fresh r.Dx()×r.Dy() surface at
// origin (0,0). Parts of r outside src stay transparent.
func Crop(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, src, r, draw.Src, nil)
	return dst
}

// Encode serializes img as a single-frame PNG data URL.
func Encode(img image.Image) (Encoded, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return Encoded(screenshot.EncodeDataURL("image/png", buf.Bytes())), nil
}
