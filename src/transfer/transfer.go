// Package transfer ships an encoded capture to the external consumer.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"region-capture/src/capture"
	"region-capture/src/screenshot"
)

const (
	// ActionSaveScreenshot tags the request sent to the consumer.
	ActionSaveScreenshot = "saveScreenshot"
	// DefaultHost is the name the consumer is registered under.
	DefaultHost = "com.example.goscreenshot"
)

var (
	// ErrMalformedDataURL is returned when the text-safe encoding cannot be parsed.
	ErrMalformedDataURL = screenshot.ErrMalformedDataURL
	// ErrDispatch wraps any failure of the cross-process channel or the consumer.
	ErrDispatch = errors.New("dispatch failed")
)

// DecodeDataURL strips the "data:<mime>;base64," header and returns the exact payload bytes.
func DecodeDataURL(s string) ([]byte, error) { return screenshot.DecodeDataURL(s) }

// EncodeDataURL is the inverse of DecodeDataURL.
func EncodeDataURL(mime string, b []byte) string { return screenshot.EncodeDataURL(mime, b) }

// Bytes is a byte sequence that travels as a JSON array of numbers, one per byte.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// SaveRequest is the payload sent to the consumer.
type SaveRequest struct {
	Action string `json:"action"`
	Data   Bytes  `json:"data"`
}

// Response is the consumer acknowledgement.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// OK reports whether the consumer acknowledged success.
func (r Response) OK() bool { return r.Status == "ok" }

// Channel is a request/response link to a named external consumer.
type Channel interface {
	Send(ctx context.Context, host string, msg any) (Response, error)
}

// ResultFunc observes the asynchronous outcome of a dispatch.
type ResultFunc func(resp Response, err error)

// Dispatcher sends encoded captures to one host over a Channel.
type Dispatcher struct {
	ch       Channel
	host     string
	onResult ResultFunc
}

// NewDispatcher returns a dispatcher for host. onResult may be nil.
func NewDispatcher(ch Channel, host string, onResult ResultFunc) *Dispatcher {
	if host == "" {
		host = DefaultHost
	}
	return &Dispatcher{ch: ch, host: host, onResult: onResult}
}

// Host returns the consumer name.
func (d *Dispatcher) Host() string { return d.host }

// Dispatch decodes img and sends it without waiting for the consumer. Decode
// failures are returned; channel and consumer failures go to the result callback.
func (d *Dispatcher) Dispatch(ctx context.Context, img capture.Encoded) error {
	data, err := DecodeDataURL(string(img))
	if err != nil {
		return err
	}
	req := SaveRequest{Action: ActionSaveScreenshot, Data: data}
	go func() {
		resp, err := d.Send(ctx, req)
		if d.onResult != nil {
			d.onResult(resp, err)
		}
	}()
	return nil
}

// Send delivers req and waits for the consumer's response.
func (d *Dispatcher) Send(ctx context.Context, req SaveRequest) (Response, error) {
	resp, err := d.ch.Send(ctx, d.host, req)
	if err != nil {
		log.Printf("transfer: %s (%d bytes) to %s failed: %v", req.Action, len(req.Data), d.host, err)
		return Response{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	log.Printf("transfer: response from %s: %+v", d.host, resp)
	if !resp.OK() {
		return resp, fmt.Errorf("%w: consumer reported %q: %s", ErrDispatch, resp.Status, resp.Message)
	}
	return resp, nil
}
