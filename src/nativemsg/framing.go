// Package nativemsg speaks the native messaging protocol: every message is a
// 32-bit little-endian length followed by that many bytes of UTF-8 JSON.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxInbound is the largest message a host accepts from its caller.
	MaxInbound = 64 << 20
	// MaxOutbound is the largest message a host may send back.
	MaxOutbound = 1 << 20
)

var ErrMessageTooLarge = errors.New("native message too large")

// WriteMessage frames v and writes it to w. Messages over limit are refused
// before anything is written.
func WriteMessage(w io.Writer, v any, limit int) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(body) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), limit)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadMessage reads one frame from r into v. A clean end of stream before the
// header returns io.EOF.
func ReadMessage(r io.Reader, v any, limit int) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if int64(n) > int64(limit) {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, n, limit)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
