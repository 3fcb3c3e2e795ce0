// Package activation is the user-facing entry point: it resolves the active
// capture target, makes sure the capture logic is present there, waits for it
// to settle and then sends the startCapture trigger.
package activation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"region-capture/src/messages"
	"region-capture/src/screenshot"
)

// DefaultSettle is the delay between ensuring the capture logic and triggering it.
const DefaultSettle = 100 * time.Millisecond

var ErrNoActiveTarget = screenshot.ErrNoActiveTarget

// Target is the viewport a capture will run against.
type Target struct {
	Index  int
	Bounds image.Rectangle
}

// Targets resolves the currently active target.
type Targets interface {
	Active(ctx context.Context) (Target, error)
}

// Injector makes sure the capture logic is listening on the target.
type Injector interface {
	Ensure(ctx context.Context, t Target) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, t Target) error

func (f InjectorFunc) Ensure(ctx context.Context, t Target) error { return f(ctx, t) }

// SendFunc delivers a trigger to the capture logic.
type SendFunc func(ctx context.Context, t messages.Trigger) error

// Activator runs the activation sequence.
type Activator struct {
	Targets  Targets
	Injector Injector
	Send     SendFunc
	// Settle is waited after Ensure.
	Settle time.Duration
}

// Activate resolves the target, ensures the capture logic and sends startCapture.
// With no active target nothing is sent and ErrNoActiveTarget is returned.
func (a *Activator) Activate(ctx context.Context) error {
	target, err := a.Targets.Active(ctx)
	if err != nil {
		log.Printf("activation: no active target: %v", err)
		if errors.Is(err, ErrNoActiveTarget) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNoActiveTarget, err)
	}
	if a.Injector != nil {
		if err := a.Injector.Ensure(ctx, target); err != nil {
			return fmt.Errorf("prepare capture on display %d: %w", target.Index, err)
		}
	}

	if a.Settle > 0 {
		t := time.NewTimer(a.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	log.Printf("activation: sending %s to display %d", messages.ActionStartCapture, target.Index)
	if err := a.Send(ctx, messages.StartCapture()); err != nil {
		return fmt.Errorf("send %s: %w", messages.ActionStartCapture, err)
	}
	return nil
}

// DisplayTargets picks one display by index.
type DisplayTargets struct {
	Index int
}

func (d DisplayTargets) Active(ctx context.Context) (Target, error) {
	if err := ctx.Err(); err != nil {
		return Target{}, err
	}
	b, err := screenshot.NewDisplay(d.Index).Bounds()
	if err != nil {
		return Target{}, err
	}
	return Target{Index: d.Index, Bounds: b}, nil
}
