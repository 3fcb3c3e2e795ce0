package eventloop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/google/uuid"
	gohook "github.com/robotn/gohook"

	"region-capture/src/capture"
	"region-capture/src/hook"
	"region-capture/src/messages"
	"region-capture/src/notification"
	"region-capture/src/overlay"
	"region-capture/src/screenshot"
	"region-capture/src/selection"
	"region-capture/src/singleinstance"
	"region-capture/src/worker"
)

var (
	ErrBusy               = errors.New("busy, please retry")
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrStopped            = errors.New("event loop stopped")
)

// Reply receives the final outcome of one trigger exactly once.
type Reply func(summary string, err error)

// Dispatcher hands a finished capture to the external consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, img capture.Encoded) error
}

// Options wires a Loop.
type Options struct {
	Surface    *overlay.Desktop
	Capturer   worker.Capturer
	Dispatcher Dispatcher
	Policy     selection.Policy
	// Scale is device pixels per viewport unit.
	Scale float64
	// Events is the global input stream. Nil disables pointer and Escape handling.
	Events <-chan gohook.Event
	// Server accepts delegated triggers. Nil disables delegation.
	Server singleinstance.Server
	// Notify shows a user-visible failure. Defaults to notification.ShowError.
	Notify func(title, message string)
	// OnBusy observes busy transitions, e.g. to update the tray tooltip.
	OnBusy func(busy bool)
}

// Loop is the single-threaded orchestrator: it owns the selection tracker,
// the surface and the busy flag, and is the only goroutine touching them.
type Loop struct {
	opts     Options
	tracker  *selection.Tracker
	pool     *worker.Pool
	busy     bool
	pending  map[uuid.UUID]Reply
	requests chan request
	results  chan result
	done     chan struct{}
	runCtx   context.Context
}

type request struct {
	trigger messages.Trigger
	reply   Reply
}

type result struct {
	res   worker.Result
	reply Reply
}

// New creates a loop. Nothing runs until Run.
func New(opts Options) *Loop {
	if opts.Notify == nil {
		opts.Notify = notification.ShowError
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	l := &Loop{
		opts:     opts,
		pool:     worker.New(opts.Capturer, 1),
		pending:  make(map[uuid.UUID]Reply),
		requests: make(chan request, 4),
		results:  make(chan result, 1),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
	}
	l.tracker = selection.NewTracker(opts.Surface, selection.Options{
		Policy:   opts.Policy,
		Scale:    opts.Scale,
		OnRegion: l.onRegion,
		OnCancel: l.onCancel,
	})
	return l
}

// Trigger posts t into the loop. reply may be nil; it is called from the loop
// goroutine once the trigger has fully completed or failed.
func (l *Loop) Trigger(t messages.Trigger, reply Reply) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if reply == nil {
		reply = l.localReply(t.Action)
	}
	select {
	case l.requests <- request{trigger: t, reply: reply}:
		return nil
	default:
		return ErrBusy
	}
}

// Send adapts Trigger for callers that do not wait for the outcome.
func (l *Loop) Send(_ context.Context, t messages.Trigger) error {
	return l.Trigger(t, nil)
}

// localReply reports failures of locally raised triggers to the user.
func (l *Loop) localReply(action string) Reply {
	return func(summary string, err error) {
		switch {
		case err == nil:
			log.Printf("eventloop: %s done: %s", action, summary)
		case errors.Is(err, ErrSelectionCancelled):
			log.Printf("eventloop: %s cancelled", action)
		default:
			log.Printf("eventloop: %s failed: %v", action, err)
			l.opts.Notify("Region capture failed", err.Error())
		}
	}
}

// Run processes triggers, input events and capture results until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.runCtx = ctx
	defer func() {
		close(l.done)
		l.shutdown()
		l.pool.Close()
		l.drainResults()
	}()

	var conns chan singleinstance.Conn
	if l.opts.Server != nil {
		if err := l.opts.Server.Start(ctx); err != nil {
			return err
		}
		defer l.opts.Server.Close()
		log.Printf("Resident listening on 127.0.0.1:%d", l.opts.Server.Port())
		conns = make(chan singleinstance.Conn, 4)
		go func() {
			for {
				conn, err := l.opts.Server.Next(ctx)
				if err != nil {
					return
				}
				conns <- conn
			}
		}()
	}

	events := l.opts.Events
	origin := l.opts.Surface.Viewport().Min
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-l.requests:
			l.handleTrigger(ctx, req)
		case conn := <-conns:
			l.handleConn(ctx, conn)
		case res := <-l.results:
			l.handleResult(ctx, res)
		case ev, ok := <-events:
			if !ok {
				log.Printf("eventloop: input stream closed")
				events = nil
				continue
			}
			l.handleInput(ev, origin)
		}
	}
}

func (l *Loop) shutdown() {
	if l.tracker.Cancel() {
		log.Printf("eventloop: armed session cancelled on shutdown")
	}
	for id, reply := range l.pending {
		delete(l.pending, id)
		reply("", ErrStopped)
	}
}

// drainResults answers results a worker queued after the loop stopped reading.
// It runs once the pool is closed, so nothing is sent after it returns.
func (l *Loop) drainResults() {
	for {
		select {
		case r := <-l.results:
			l.setBusy(false)
			r.reply("", ErrStopped)
		default:
			return
		}
	}
}

func (l *Loop) handleInput(ev gohook.Event, origin image.Point) {
	if hook.IsEscape(ev) {
		if l.tracker.Cancel() {
			log.Printf("eventloop: selection cancelled by Escape")
		}
		return
	}
	if l.tracker.Active() == nil {
		return
	}
	if pev, ok := hook.ToPointer(ev, origin, l.opts.Scale); ok {
		l.opts.Surface.Deliver(pev)
	}
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	l.handleTrigger(ctx, request{
		trigger: conn.Request().Trigger,
		reply: func(summary string, err error) {
			if err != nil {
				_ = conn.RespondError(err.Error())
			} else {
				_ = conn.RespondSuccess(summary)
			}
			_ = conn.Close()
		},
	})
}

func (l *Loop) handleTrigger(ctx context.Context, req request) {
	log.Printf("eventloop: trigger %s", req.trigger.Action)
	switch req.trigger.Action {
	case messages.ActionStartCapture:
		s, err := l.tracker.Begin()
		if err != nil {
			req.reply("", fmt.Errorf("start selection: %w", err))
			return
		}
		l.pending[s.ID] = req.reply
	case messages.ActionCaptureRegion:
		l.submit(ctx, *req.trigger.Region, req.reply)
	default:
		req.reply("", fmt.Errorf("%w: %q", messages.ErrUnknownAction, req.trigger.Action))
	}
}

// onRegion runs on the loop goroutine, inside pointer delivery.
func (l *Loop) onRegion(s *selection.Session, r screenshot.Region) {
	reply := l.takeReply(s)
	l.submit(l.runCtx, r, reply)
}

func (l *Loop) onCancel(s *selection.Session) {
	l.takeReply(s)("", ErrSelectionCancelled)
}

func (l *Loop) takeReply(s *selection.Session) Reply {
	reply, ok := l.pending[s.ID]
	if !ok {
		return l.localReply(messages.ActionStartCapture)
	}
	delete(l.pending, s.ID)
	return reply
}

func (l *Loop) submit(ctx context.Context, r screenshot.Region, reply Reply) {
	if l.busy {
		log.Printf("eventloop: busy, dropping region %+v", r)
		reply("", ErrBusy)
		return
	}
	l.setBusy(true)
	ok := l.pool.Submit(ctx, r, func(res worker.Result) {
		select {
		case l.results <- result{res: res, reply: reply}:
		case <-l.done:
			reply("", ErrStopped)
		}
	})
	if !ok {
		l.setBusy(false)
		reply("", ErrBusy)
	}
}

func (l *Loop) handleResult(ctx context.Context, r result) {
	l.setBusy(false)
	res := r.res
	switch {
	case res.Err != nil:
		r.reply("", fmt.Errorf("capture region: %w", res.Err))
	case res.Empty:
		r.reply("empty region, nothing captured", nil)
	default:
		if l.opts.Dispatcher == nil {
			r.reply(string(res.Encoded), nil)
			return
		}
		if err := l.opts.Dispatcher.Dispatch(ctx, res.Encoded); err != nil {
			r.reply("", fmt.Errorf("dispatch: %w", err))
			return
		}
		r.reply(fmt.Sprintf("captured %dx%d region, dispatched", int(res.Region.Width), int(res.Region.Height)), nil)
	}
}

func (l *Loop) setBusy(b bool) {
	l.busy = b
	if l.opts.OnBusy != nil {
		l.opts.OnBusy(b)
	}
}
