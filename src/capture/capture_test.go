package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"region-capture/src/screenshot"
)

type fakeViewport struct {
	img   image.Image
	url   string
	err   error
	calls int
}

func (v *fakeViewport) CaptureVisible(ctx context.Context, format string) (string, error) {
	v.calls++
	if v.err != nil {
		return "", v.err
	}
	if v.url != "" {
		return v.url, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, v.img); err != nil {
		return "", err
	}
	return screenshot.PNGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// gradient returns a w×h opaque image whose pixel (x,y) encodes its position.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func decodeEncoded(t *testing.T, e Encoded) image.Image {
	t.Helper()
	img, err := Decode(context.Background(), RawCapture(e))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return img
}

func TestCaptureCropsRegion(t *testing.T) {
	src := gradient(64, 48)
	vp := &fakeViewport{img: src}
	p := New(vp, 1)

	out, empty, err := p.Capture(context.Background(), screenshot.Region{X: 0, Y: 0, Width: 10, Height: 10})
	if err != nil || empty {
		t.Fatalf("Capture: empty=%v err=%v", empty, err)
	}
	if !strings.HasPrefix(string(out), screenshot.PNGDataURLPrefix) {
		t.Fatalf("output is not a PNG data URL")
	}
	img := decodeEncoded(t, out)
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("expected 10x10, got %v", b)
	}
	if got, want := color.RGBAModel.Convert(img.At(0, 0)), src.At(0, 0); got != want {
		t.Errorf("pixel (0,0) = %v, want %v", got, want)
	}
}

func TestCaptureOffsetRegion(t *testing.T) {
	src := gradient(64, 48)
	p := New(&fakeViewport{img: src}, 1)

	out, _, err := p.Capture(context.Background(), screenshot.Region{X: 20, Y: 5, Width: 8, Height: 4})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	img := decodeEncoded(t, out)
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			got := color.RGBAModel.Convert(img.At(x, y))
			want := src.At(20+x, 5+y)
			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestCaptureZeroAreaIsNoop(t *testing.T) {
	vp := &fakeViewport{img: gradient(4, 4)}
	p := New(vp, 1)

	out, empty, err := p.Capture(context.Background(), screenshot.Normalize(
		screenshot.Point{X: 10, Y: 10}, screenshot.Point{X: 10, Y: 10}))
	if err != nil {
		t.Fatalf("zero-area region must not fail: %v", err)
	}
	if !empty || out != "" {
		t.Fatalf("expected empty result, got empty=%v out=%q", empty, out)
	}
	if vp.calls != 0 {
		t.Errorf("viewport must not be captured for an empty region")
	}
}

func TestCaptureRejectsOversizedRegion(t *testing.T) {
	tests := []struct {
		name  string
		r     screenshot.Region
		scale float64
	}{
		{"Huge", screenshot.Region{Width: 100000, Height: 100000}, 1},
		{"NaN", screenshot.Region{Width: math.NaN(), Height: 10}, 1},
		{"ScaledPastLimit", screenshot.Region{Width: screenshot.MaxDimension, Height: 10}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := &fakeViewport{img: gradient(4, 4)}
			out, empty, err := New(vp, tt.scale).Capture(context.Background(), tt.r)
			if !errors.Is(err, ErrInvalidRegion) {
				t.Fatalf("expected ErrInvalidRegion, got %v", err)
			}
			if out != "" || empty {
				t.Fatal("rejected region must not produce output")
			}
			if vp.calls != 0 {
				t.Error("viewport must not be captured for a rejected region")
			}
		})
	}
}

func TestCaptureFreshEveryTime(t *testing.T) {
	vp := &fakeViewport{img: gradient(8, 8)}
	p := New(vp, 1)
	r := screenshot.Region{Width: 2, Height: 2}
	for i := 0; i < 3; i++ {
		if _, _, err := p.Capture(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	if vp.calls != 3 {
		t.Errorf("expected 3 viewport captures, got %d", vp.calls)
	}
}

func TestCaptureStageFailures(t *testing.T) {
	r := screenshot.Region{Width: 5, Height: 5}
	tests := []struct {
		name string
		vp   *fakeViewport
		want error
	}{
		{"NoTarget", &fakeViewport{err: screenshot.ErrNoActiveTarget}, ErrNoActiveTarget},
		{"Denied", &fakeViewport{err: screenshot.ErrCaptureUnavailable}, ErrCaptureUnavailable},
		{"NotDataURL", &fakeViewport{url: "hello"}, ErrDecode},
		{"BadBase64", &fakeViewport{url: "data:image/png;base64,!!!"}, ErrDecode},
		{"NotAnImage", &fakeViewport{url: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("nope"))}, ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, empty, err := New(tt.vp, 1).Capture(context.Background(), r)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if out != "" || empty {
				t.Fatalf("failure must not produce output")
			}
		})
	}
}

func TestCaptureCancelledContext(t *testing.T) {
	vp := &fakeViewport{img: gradient(4, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(vp, 1).Capture(ctx, screenshot.Region{Width: 2, Height: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if vp.calls != 0 {
		t.Error("cancelled pipeline must not capture")
	}
}

func TestCropClipsSilently(t *testing.T) {
	src := gradient(10, 10)
	out := Crop(src, image.Rect(6, 6, 14, 12))
	if b := out.Bounds(); b != image.Rect(0, 0, 8, 6) {
		t.Fatalf("unexpected bounds %v", b)
	}
	if got := out.RGBAAt(0, 0); got != src.RGBAAt(6, 6) {
		t.Errorf("inside pixel = %v, want %v", got, src.RGBAAt(6, 6))
	}
	if got := out.RGBAAt(3, 3); got != src.RGBAAt(9, 9) {
		t.Errorf("edge pixel = %v, want %v", got, src.RGBAAt(9, 9))
	}
	if got := out.RGBAAt(4, 0); got != (color.RGBA{}) {
		t.Errorf("outside pixel should be transparent, got %v", got)
	}
	if got := out.RGBAAt(7, 5); got != (color.RGBA{}) {
		t.Errorf("outside pixel should be transparent, got %v", got)
	}
}

func TestCropNegativeOrigin(t *testing.T) {
	src := gradient(10, 10)
	out := Crop(src, image.Rect(-2, -2, 3, 3))
	if got := out.RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("pixel outside source should be transparent, got %v", got)
	}
	if got := out.RGBAAt(2, 2); got != src.RGBAAt(0, 0) {
		t.Errorf("pixel (2,2) = %v, want source origin %v", got, src.RGBAAt(0, 0))
	}
}

func TestCaptureScaled(t *testing.T) {
	src := gradient(40, 40)
	p := New(&fakeViewport{img: src}, 2)
	out, _, err := p.Capture(context.Background(), screenshot.Region{X: 1, Y: 2, Width: 3, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	img := decodeEncoded(t, out)
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 8 {
		t.Fatalf("expected 6x8 device pixels, got %v", b)
	}
	if got := color.RGBAModel.Convert(img.At(0, 0)); got != src.At(2, 4) {
		t.Errorf("pixel (0,0) = %v, want %v", got, src.At(2, 4))
	}
}
