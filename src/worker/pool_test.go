package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"region-capture/src/capture"
	"region-capture/src/screenshot"
)

type blockingCapturer struct {
	release chan struct{}
	started chan screenshot.Region
	err     error
	panics  bool
}

func (b *blockingCapturer) Capture(ctx context.Context, r screenshot.Region) (capture.Encoded, bool, error) {
	if b.started != nil {
		b.started <- r
	}
	if b.release != nil {
		<-b.release
	}
	if b.panics {
		panic("boom")
	}
	if b.err != nil {
		return "", false, b.err
	}
	if r.Empty() {
		return "", true, nil
	}
	return "data:image/png;base64,AA==", false, nil
}

func wait(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
	}
	return Result{}
}

func TestSubmitRunsCapture(t *testing.T) {
	p := New(&blockingCapturer{}, 1)
	defer p.Close()

	results := make(chan Result, 1)
	region := screenshot.Region{X: 1, Y: 1, Width: 2, Height: 2}
	if !p.Submit(context.Background(), region, func(r Result) { results <- r }) {
		t.Fatal("submit rejected on idle pool")
	}
	r := wait(t, results)
	if r.Err != nil || r.Empty || r.Encoded == "" || r.Region != region {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestSubmitBackPressure(t *testing.T) {
	c := &blockingCapturer{release: make(chan struct{}), started: make(chan screenshot.Region, 1)}
	p := New(c, 1)
	defer p.Close()

	results := make(chan Result, 2)
	cb := func(r Result) { results <- r }
	r := screenshot.Region{Width: 1, Height: 1}

	if !p.Submit(context.Background(), r, cb) {
		t.Fatal("first submit rejected")
	}
	<-c.started
	if !p.Submit(context.Background(), r, cb) {
		t.Fatal("queue slot should accept one pending job")
	}
	if p.Submit(context.Background(), r, cb) {
		t.Fatal("third submit should be rejected while busy")
	}
	close(c.release)
	wait(t, results)
	<-c.started
	wait(t, results)
}

func TestWorkerRecoversPanic(t *testing.T) {
	p := New(&blockingCapturer{panics: true}, 1)
	defer p.Close()
	results := make(chan Result, 1)
	p.Submit(context.Background(), screenshot.Region{Width: 1, Height: 1}, func(r Result) { results <- r })
	if r := wait(t, results); r.Err == nil {
		t.Fatal("expected error from panicking capture")
	}
}

func TestWorkerPropagatesError(t *testing.T) {
	want := errors.New("capture denied")
	p := New(&blockingCapturer{err: want}, 0)
	defer p.Close()
	results := make(chan Result, 1)
	p.Submit(context.Background(), screenshot.Region{Width: 1, Height: 1}, func(r Result) { results <- r })
	if r := wait(t, results); !errors.Is(r.Err, want) {
		t.Fatalf("expected %v, got %v", want, r.Err)
	}
}

func TestCloseTwice(t *testing.T) {
	p := New(&blockingCapturer{}, 2)
	p.Close()
	p.Close()
}

type unusedViewport struct{}

func (unusedViewport) CaptureVisible(context.Context, string) (string, error) {
	panic("viewport captured for a rejected region")
}

func TestWorkerRejectsOversizedRegion(t *testing.T) {
	p := New(capture.New(unusedViewport{}, 1), 1)
	defer p.Close()
	results := make(chan Result, 1)
	huge := screenshot.Region{Width: 100000, Height: 100000}
	if !p.Submit(context.Background(), huge, func(r Result) { results <- r }) {
		t.Fatal("submit rejected on idle pool")
	}
	r := wait(t, results)
	if !errors.Is(r.Err, capture.ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", r.Err)
	}
	if r.Encoded != "" {
		t.Error("rejected region must not produce output")
	}
}
