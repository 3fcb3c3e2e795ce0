package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"math"
	"strings"

	"github.com/kbinani/screenshot"
)

var (
	// ErrNoActiveTarget is returned when there is no display to capture.
	ErrNoActiveTarget = errors.New("no active target")
	// ErrCaptureUnavailable is returned when the display refuses or fails the capture.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrUnsupportedFormat is returned for any format other than PNG.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	// ErrInvalidRegion is returned for regions that are negative, not finite or too large.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrMalformedDataURL is returned when a data URL cannot be parsed.
	ErrMalformedDataURL = errors.New("malformed data URL")
)

const (
	// PNGDataURLPrefix is the header of every data URL produced by this package.
	PNGDataURLPrefix = "data:image/png;base64,"
	// MaxDimension caps either side of a region, in viewport units and in device pixels.
	MaxDimension = 16384
)

// DecodeDataURL strips the "data:<mime>;base64," header and returns the exact payload bytes.
func DecodeDataURL(s string) ([]byte, error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 || !strings.HasPrefix(s, "data:") {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedDataURL)
	}
	if !strings.HasSuffix(s[:comma], ";base64") {
		return nil, fmt.Errorf("%w: payload is not base64", ErrMalformedDataURL)
	}
	b, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return b, nil
}

// EncodeDataURL is the inverse of DecodeDataURL.
func EncodeDataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// Point is a pointer position relative to the viewport's top-left corner.
// Coordinates may be fractional when the device scale is not 1.
type Point struct {
	X float64
	Y float64
}

// Region is a normalized rectangle: X,Y is always the top-left corner and
// Width/Height are never negative.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize converts two arbitrary corners into a Region.
func Normalize(p1, p2 Point) Region {
	return Region{
		X:      math.Min(p1.X, p2.X),
		Y:      math.Min(p1.Y, p2.Y),
		Width:  math.Abs(p2.X - p1.X),
		Height: math.Abs(p2.Y - p1.Y),
	}
}

// Empty reports whether the region has zero area. NaN extents count as empty.
func (r Region) Empty() bool {
	return !(r.Width > 0) || !(r.Height > 0)
}

// Validate rejects regions with non-finite values, negative extents or a side
// longer than MaxDimension. Zero-area regions are valid.
func (r Region) Validate() error {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in %+v", ErrInvalidRegion, r)
		}
	}
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: negative size in %+v", ErrInvalidRegion, r)
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: %gx%g exceeds %d", ErrInvalidRegion, r.Width, r.Height, MaxDimension)
	}
	if math.Abs(r.X) > math.MaxInt32/2 || math.Abs(r.Y) > math.MaxInt32/2 {
		return fmt.Errorf("%w: origin out of range in %+v", ErrInvalidRegion, r)
	}
	return nil
}

// Bounds returns the device-pixel rectangle covered by r. The top-left corner
// is floored and the bottom-right corner ceiled, so partially covered pixels
// are included. A scale <= 0 is treated as 1. Empty and invalid regions map
// to the empty rectangle.
func (r Region) Bounds(scale float64) image.Rectangle {
	if r.Empty() || r.Validate() != nil {
		return image.Rectangle{}
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		scale = 1
	}
	x0 := int(math.Floor(r.X * scale))
	y0 := int(math.Floor(r.Y * scale))
	x1 := int(math.Ceil((r.X + r.Width) * scale))
	y1 := int(math.Ceil((r.Y + r.Height) * scale))
	return image.Rect(x0, y0, x1, y1)
}

// ActiveDisplays returns the number of displays that can be captured.
func ActiveDisplays() int {
	return screenshot.NumActiveDisplays()
}

// Display captures one physical display; it is the viewport of this tool.
type Display struct {
	Index int
}

// NewDisplay returns the viewport backed by display index.
func NewDisplay(index int) *Display {
	return &Display{Index: index}
}

// Bounds returns the display rectangle in virtual-screen coordinates.
func (d *Display) Bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found: %w", ErrNoActiveTarget)
	}
	if d.Index < 0 || d.Index >= n {
		return image.Rectangle{}, fmt.Errorf("display %d out of range (have %d): %w", d.Index, n, ErrNoActiveTarget)
	}
	return screenshot.GetDisplayBounds(d.Index), nil
}

// CaptureVisible grabs the whole display and returns it as a PNG data URL.
// Every call captures fresh pixels.
func (d *Display) CaptureVisible(ctx context.Context, format string) (string, error) {
	if format != "png" {
		return "", fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
	bounds, err := d.Bounds()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return "", fmt.Errorf("capture display %d: %v: %w", d.Index, err, ErrCaptureUnavailable)
	}
	log.Printf("screenshot: captured display %d (%dx%d)", d.Index, bounds.Dx(), bounds.Dy())

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return EncodeDataURL("image/png", buf.Bytes()), nil
}
