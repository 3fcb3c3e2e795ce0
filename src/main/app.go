package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"region-capture/src/activation"
	"region-capture/src/capture"
	"region-capture/src/config"
	"region-capture/src/eventloop"
	"region-capture/src/hook"
	"region-capture/src/nativemsg"
	"region-capture/src/overlay"
	"region-capture/src/screenshot"
	"region-capture/src/selection"
	"region-capture/src/singleinstance"
	"region-capture/src/transfer"
)

// app holds the components shared by resident and standalone mode.
type app struct {
	cfg        *config.Config
	hub        *hook.Hub
	display    *screenshot.Display
	desktop    *overlay.Desktop
	pipeline   *capture.Pipeline
	dispatcher *countingDispatcher
	server     singleinstance.Server
	loop       *eventloop.Loop
	dispatched atomic.Int64
}

func newApp(cfg *config.Config, server singleinstance.Server, onResult transfer.ResultFunc) (*app, error) {
	display := screenshot.NewDisplay(cfg.DisplayIndex)
	bounds, err := display.Bounds()
	if err != nil {
		return nil, fmt.Errorf("display %d: %w", cfg.DisplayIndex, err)
	}
	log.Printf("Viewport: display %d at %v", cfg.DisplayIndex, bounds)

	a := &app{
		cfg:      cfg,
		hub:      hook.NewHub(),
		display:  display,
		desktop:  overlay.NewDesktop(bounds),
		pipeline: capture.New(display, cfg.DeviceScale),
		server:   server,
	}
	ch := nativemsg.NewExecChannel(cfg.ManifestDir)
	a.dispatcher = &countingDispatcher{
		d:     transfer.NewDispatcher(ch, cfg.NativeHostName, onResult),
		count: &a.dispatched,
	}
	return a, nil
}

func (a *app) loopOptions(onBusy func(bool)) eventloop.Options {
	events, _ := a.hub.Subscribe(256)
	return eventloop.Options{
		Surface:    a.desktop,
		Capturer:   a.pipeline,
		Dispatcher: a.dispatcher,
		Policy:     selection.ParsePolicy(a.cfg.SessionPolicy),
		Scale:      a.cfg.DeviceScale,
		Events:     events,
		Server:     a.server,
		OnBusy:     onBusy,
	}
}

// activator builds the activation sequence. Ensure starts the input hook when
// it is not yet running so pointer events reach the selection surface.
func (a *app) activator(send activation.SendFunc) *activation.Activator {
	return &activation.Activator{
		Targets: activation.DisplayTargets{Index: a.cfg.DisplayIndex},
		Injector: activation.InjectorFunc(func(ctx context.Context, t activation.Target) error {
			if a.hub.Running() {
				return nil
			}
			if err := a.hub.Start(); err != nil && !errors.Is(err, hook.ErrAlreadyRunning) {
				return err
			}
			return nil
		}),
		Send:   send,
		Settle: a.cfg.SettleDelay,
	}
}

// countingDispatcher records how many captures were handed to the consumer.
type countingDispatcher struct {
	d     *transfer.Dispatcher
	count *atomic.Int64
}

func (c *countingDispatcher) Dispatch(ctx context.Context, img capture.Encoded) error {
	if err := c.d.Dispatch(ctx, img); err != nil {
		return err
	}
	c.count.Add(1)
	return nil
}
