package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"time"

	"golang.design/x/clipboard"
)

var (
	writeMu  sync.Mutex
	initOnce sync.Once
	initErr  error
	// changed is closed once the last written image is replaced; guarded by writeMu.
	changed <-chan struct{}
)

// ErrNotPNG is returned by WriteImage for payloads that do not decode as PNG.
var ErrNotPNG = errors.New("payload is not a PNG image")

// Init prepares the system clipboard. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() { initErr = clipboard.Init() })
	return initErr
}

// WriteImage places a PNG on the clipboard. The payload is validated first so a
// corrupt capture never replaces the user's clipboard contents.
func WriteImage(data []byte) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPNG, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: zero-sized image", ErrNotPNG)
	}
	if err := Init(); err != nil {
		return fmt.Errorf("clipboard init: %w", err)
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	changed = clipboard.Write(clipboard.FmtImage, data)
	return nil
}

// Hold blocks until another program replaces the image last written by this
// process, limit elapses or ctx is done. It reports whether the image was
// replaced. On X11 the clipboard content is served by the writing process, so
// a short-lived writer calls Hold before exiting.
func Hold(ctx context.Context, limit time.Duration) bool {
	writeMu.Lock()
	ch := changed
	writeMu.Unlock()
	return hold(ctx, ch, limit)
}

func hold(ctx context.Context, changed <-chan struct{}, limit time.Duration) bool {
	if changed == nil || limit <= 0 {
		return false
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-changed:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	return false
}
