package eventloop

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	gohook "github.com/robotn/gohook"

	"region-capture/src/capture"
	"region-capture/src/messages"
	"region-capture/src/overlay"
	"region-capture/src/screenshot"
	"region-capture/src/selection"
	"region-capture/src/transfer"
)

var viewport = image.Rect(100, 0, 740, 480)

type nopWindow struct{}

func (nopWindow) Place(image.Rectangle) error { return nil }
func (nopWindow) Remove() error               { return nil }
func (nopWindow) SetCursor(selection.Cursor)  {}

func newDesktop() *overlay.Desktop {
	return overlay.NewDesktopWithFactory(viewport, func(image.Rectangle) (overlay.Window, error) {
		return nopWindow{}, nil
	})
}

type fakeCapturer struct {
	mu      sync.Mutex
	regions []screenshot.Region
	err     error
	block   chan struct{}
}

func (f *fakeCapturer) Capture(ctx context.Context, r screenshot.Region) (capture.Encoded, bool, error) {
	f.mu.Lock()
	f.regions = append(f.regions, r)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", false, f.err
	}
	if r.Empty() {
		return "", true, nil
	}
	return capture.Encoded(transfer.EncodeDataURL("image/png", []byte{1, 2, 3})), false, nil
}

func (f *fakeCapturer) captured() []screenshot.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]screenshot.Region(nil), f.regions...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []capture.Encoded
	err  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, img capture.Encoded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, img)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type outcome struct {
	summary string
	err     error
}

type harness struct {
	loop    *Loop
	desktop *overlay.Desktop
	events  chan gohook.Event
	cap     *fakeCapturer
	disp    *fakeDispatcher
	cancel  context.CancelFunc
	stopped chan error
}

func start(t *testing.T, policy selection.Policy, c *fakeCapturer) *harness {
	t.Helper()
	if c == nil {
		c = &fakeCapturer{}
	}
	h := &harness{
		desktop: newDesktop(),
		events:  make(chan gohook.Event, 16),
		cap:     c,
		disp:    &fakeDispatcher{},
		stopped: make(chan error, 1),
	}
	h.loop = New(Options{
		Surface:    h.desktop,
		Capturer:   c,
		Dispatcher: h.disp,
		Policy:     policy,
		Events:     h.events,
		Notify:     func(string, string) {},
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.stopped <- h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})
	return h
}

func (h *harness) trigger(t *testing.T, tr messages.Trigger) chan outcome {
	t.Helper()
	out := make(chan outcome, 1)
	if err := h.loop.Trigger(tr, func(s string, err error) { out <- outcome{s, err} }); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	return out
}

func (h *harness) waitListeners(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.desktop.Listeners() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d listeners, have %d", n, h.desktop.Listeners())
		}
		time.Sleep(time.Millisecond)
	}
}

func mouse(kind uint8, x, y int16) gohook.Event {
	return gohook.Event{Kind: kind, Button: 1, X: x, Y: y}
}

func wait(t *testing.T, ch chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reply")
	}
	return outcome{}
}

func TestDragCapturesAndDispatches(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	out := h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)

	// Viewport origin is x=100, so global 150 is viewport 50.
	h.events <- mouse(gohook.MouseHold, 150, 50)
	h.events <- mouse(gohook.MouseDrag, 200, 100)
	h.events <- mouse(gohook.MouseDown, 250, 120)

	o := wait(t, out)
	if o.err != nil {
		t.Fatalf("unexpected error: %v", o.err)
	}
	want := screenshot.Region{X: 50, Y: 50, Width: 100, Height: 70}
	if got := h.cap.captured(); len(got) != 1 || got[0] != want {
		t.Fatalf("captured %+v, want %+v", got, want)
	}
	if h.disp.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", h.disp.count())
	}
	if h.desktop.Listeners() != 0 {
		t.Fatalf("listeners leaked: %d", h.desktop.Listeners())
	}
}

func TestClickIsNoop(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	out := h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)

	h.events <- mouse(gohook.MouseHold, 110, 10)
	h.events <- mouse(gohook.MouseDown, 110, 10)

	o := wait(t, out)
	if o.err != nil {
		t.Fatalf("zero-area selection must not fail: %v", o.err)
	}
	if h.disp.count() != 0 {
		t.Fatal("nothing should be dispatched for a zero-area region")
	}
}

func TestEscapeCancels(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	out := h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)

	h.events <- mouse(gohook.MouseHold, 150, 50)
	h.events <- gohook.Event{Kind: gohook.KeyHold, Rawcode: 27}

	if o := wait(t, out); !errors.Is(o.err, ErrSelectionCancelled) {
		t.Fatalf("expected ErrSelectionCancelled, got %v", o.err)
	}
	h.waitListeners(t, 0)
	if len(h.cap.captured()) != 0 {
		t.Fatal("cancelled selection must not capture")
	}
}

func TestResetPolicyCancelsFirstTrigger(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	first := h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)
	second := h.trigger(t, messages.StartCapture())

	if o := wait(t, first); !errors.Is(o.err, ErrSelectionCancelled) {
		t.Fatalf("first trigger: expected cancellation, got %v", o.err)
	}
	h.waitListeners(t, 3)
	h.events <- mouse(gohook.MouseHold, 100, 0)
	h.events <- mouse(gohook.MouseDown, 110, 20)
	if o := wait(t, second); o.err != nil {
		t.Fatalf("second trigger: %v", o.err)
	}
}

func TestRejectPolicyFailsSecondTrigger(t *testing.T) {
	h := start(t, selection.PolicyReject, nil)
	h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)
	second := h.trigger(t, messages.StartCapture())
	if o := wait(t, second); !errors.Is(o.err, selection.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", o.err)
	}
	if h.desktop.Listeners() != 3 {
		t.Fatal("first session must stay armed")
	}
}

func TestCaptureRegionTrigger(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	r := screenshot.Region{X: 1, Y: 2, Width: 30, Height: 40}
	o := wait(t, h.trigger(t, messages.CaptureRegion(r)))
	if o.err != nil {
		t.Fatal(o.err)
	}
	if got := h.cap.captured(); len(got) != 1 || got[0] != r {
		t.Fatalf("captured %+v", got)
	}
	if h.disp.count() != 1 {
		t.Fatal("expected dispatch")
	}
}

func TestCaptureFailureReported(t *testing.T) {
	h := start(t, selection.PolicyReset, &fakeCapturer{err: capture.ErrCaptureUnavailable})
	o := wait(t, h.trigger(t, messages.CaptureRegion(screenshot.Region{Width: 5, Height: 5})))
	if !errors.Is(o.err, capture.ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", o.err)
	}
	if h.disp.count() != 0 {
		t.Fatal("failed capture must not dispatch")
	}
}

func TestBusyRejectsSecondJob(t *testing.T) {
	c := &fakeCapturer{block: make(chan struct{})}
	h := start(t, selection.PolicyReset, c)
	r := screenshot.Region{Width: 5, Height: 5}
	first := h.trigger(t, messages.CaptureRegion(r))
	second := h.trigger(t, messages.CaptureRegion(r))

	if o := wait(t, second); !errors.Is(o.err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", o.err)
	}
	close(c.block)
	if o := wait(t, first); o.err != nil {
		t.Fatalf("first job: %v", o.err)
	}
}

func TestShutdownAnswersInFlightCapture(t *testing.T) {
	c := &fakeCapturer{block: make(chan struct{})}
	h := start(t, selection.PolicyReset, c)
	out := h.trigger(t, messages.CaptureRegion(screenshot.Region{Width: 5, Height: 5}))

	deadline := time.Now().Add(2 * time.Second)
	for len(c.captured()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("capture never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.cancel()
	// The loop is gone before the worker finishes; its reply must not be lost.
	time.Sleep(20 * time.Millisecond)
	close(c.block)

	if o := wait(t, out); !errors.Is(o.err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %+v", o)
	}
}

func TestLocalFailureNotifies(t *testing.T) {
	notified := make(chan string, 1)
	l := New(Options{
		Surface:  newDesktop(),
		Capturer: &fakeCapturer{err: errors.New("denied")},
		Notify:   func(title, msg string) { notified <- msg },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := l.Send(ctx, messages.CaptureRegion(screenshot.Region{Width: 2, Height: 2})); err != nil {
		t.Fatal(err)
	}
	select {
	case <-notified:
	case <-time.After(3 * time.Second):
		t.Fatal("local failure was not notified")
	}
}

func TestTriggerValidation(t *testing.T) {
	l := New(Options{Surface: newDesktop(), Capturer: &fakeCapturer{}})
	defer l.pool.Close()
	if err := l.Trigger(messages.Trigger{Action: "bogus"}, nil); !errors.Is(err, messages.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestShutdownReleasesArmedSession(t *testing.T) {
	h := start(t, selection.PolicyReset, nil)
	out := h.trigger(t, messages.StartCapture())
	h.waitListeners(t, 3)
	h.cancel()
	<-h.stopped
	h.stopped <- nil // let Cleanup drain

	o := wait(t, out)
	if o.err == nil {
		t.Fatal("pending trigger must fail on shutdown")
	}
	if h.desktop.Listeners() != 0 {
		t.Fatal("listeners must be released on shutdown")
	}
}

type viewportImage struct{ img image.Image }

func (v viewportImage) CaptureVisible(ctx context.Context, format string) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, v.img); err != nil {
		return "", err
	}
	return screenshot.PNGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

type channelFunc func(ctx context.Context, host string, msg any) (transfer.Response, error)

func (f channelFunc) Send(ctx context.Context, host string, msg any) (transfer.Response, error) {
	return f(ctx, host, msg)
}

func TestEndToEndPipeline(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	received := make(chan transfer.SaveRequest, 1)
	disp := transfer.NewDispatcher(channelFunc(func(_ context.Context, host string, msg any) (transfer.Response, error) {
		received <- msg.(transfer.SaveRequest)
		return transfer.Response{Status: "ok"}, nil
	}), "", nil)

	desktop := newDesktop()
	events := make(chan gohook.Event, 8)
	l := New(Options{
		Surface:    desktop,
		Capturer:   capture.New(viewportImage{src}, 1),
		Dispatcher: disp,
		Events:     events,
		Notify:     func(string, string) {},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	out := make(chan outcome, 1)
	if err := l.Trigger(messages.StartCapture(), func(s string, err error) { out <- outcome{s, err} }); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for desktop.Listeners() != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	events <- mouse(gohook.MouseHold, 150, 50)
	events <- mouse(gohook.MouseDown, 250, 120)
	if o := wait(t, out); o.err != nil {
		t.Fatal(o.err)
	}

	var req transfer.SaveRequest
	select {
	case req = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("consumer never received the capture")
	}
	if req.Action != transfer.ActionSaveScreenshot {
		t.Fatalf("action = %q", req.Action)
	}
	img, err := png.Decode(bytes.NewReader(req.Data))
	if err != nil {
		t.Fatalf("payload is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 70 {
		t.Fatalf("cropped image is %v, want 100x70", b)
	}
	if got := color.RGBAModel.Convert(img.At(0, 0)); got != src.At(50, 50) {
		t.Errorf("pixel (0,0) = %v, want %v", got, src.At(50, 50))
	}
}
