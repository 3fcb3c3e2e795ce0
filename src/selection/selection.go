// Package selection turns a pointer down/move/up sequence into a normalized
// screenshot.Region while drawing a rectangle overlay on the host surface.
//
// Every interaction lives in an explicit Session. Handlers are bound to the
// Session they were registered for, so a stale handler can never mutate the
// next interaction. A Tracker owns at most one armed Session; what happens when
// Begin is called while one is armed is decided by its Policy.
//
// All methods must be called from a single goroutine (the event loop).
package selection

import (
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/google/uuid"

	"region-capture/src/screenshot"
)

// ErrSessionActive is returned by Begin under PolicyReject when a session is armed.
var ErrSessionActive = errors.New("selection session already active")

// EventKind identifies a pointer event.
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	PointerUp
)

func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerMove:
		return "pointermove"
	case PointerUp:
		return "pointerup"
	default:
		return "unknown"
	}
}

// PointerEvent is one viewport-relative pointer event.
type PointerEvent struct {
	Kind  EventKind
	Point screenshot.Point
}

// Handler receives pointer events of one kind.
type Handler func(PointerEvent)

// ListenerID identifies a registration on a Surface.
type ListenerID uint64

// Cursor is the pointer affordance shown on the surface.
type Cursor int

const (
	CursorDefault Cursor = iota
	CursorCrosshair
)

func (c Cursor) String() string {
	if c == CursorCrosshair {
		return "crosshair"
	}
	return "default"
}

// Surface is the host the tracker listens on and draws over.
type Surface interface {
	AddListener(kind EventKind, h Handler) ListenerID
	RemoveListener(kind EventKind, id ListenerID)
	SetCursor(c Cursor)
	NewOverlay() (Overlay, error)
}

// Overlay is the visual selection rectangle. It must not intercept pointer
// events, otherwise the drag would never reach the surface.
type Overlay interface {
	Place(r image.Rectangle) error
	Remove() error
}

// State of a Session.
type State int

const (
	StateIdle State = iota
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// Policy decides what Begin does while a session is armed.
type Policy int

const (
	// PolicyReset cancels the armed session and starts a new one.
	PolicyReset Policy = iota
	// PolicyReject refuses the new session with ErrSessionActive.
	PolicyReject
)

// ParsePolicy maps "reset" and "reject" to a Policy. Anything else is PolicyReset.
func ParsePolicy(s string) Policy {
	if s == "reject" {
		return PolicyReject
	}
	return PolicyReset
}

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "reset"
}

// Options configures a Tracker.
type Options struct {
	Policy Policy
	// Scale converts pointer coordinates to device pixels for overlay placement.
	Scale float64
	// OnRegion receives the normalized region when a session completes.
	OnRegion func(s *Session, r screenshot.Region)
	// OnCancel is invoked when a session ends without a region.
	OnCancel func(s *Session)
}

// Session is one begin → pointer-up interaction.
type Session struct {
	ID uuid.UUID

	tracker   *Tracker
	state     State
	start     *screenshot.Point
	end       *screenshot.Point
	overlay   Overlay
	listeners [3]ListenerID
}

// State returns the session state.
func (s *Session) State() State { return s.state }

// Start returns the recorded pointer-down position, if any.
func (s *Session) Start() (screenshot.Point, bool) {
	if s.start == nil {
		return screenshot.Point{}, false
	}
	return *s.start, true
}

// End returns the last pointer position after the start, if any.
func (s *Session) End() (screenshot.Point, bool) {
	if s.end == nil {
		return screenshot.Point{}, false
	}
	return *s.end, true
}

// Tracker drives Sessions on one Surface.
type Tracker struct {
	surface Surface
	opts    Options
	active  *Session
}

// NewTracker creates an idle tracker.
func NewTracker(surface Surface, opts Options) *Tracker {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	return &Tracker{surface: surface, opts: opts}
}

// Active returns the armed session or nil.
func (t *Tracker) Active() *Session { return t.active }

// Begin arms a new session: overlay inserted, crosshair cursor, three listeners attached.
func (t *Tracker) Begin() (*Session, error) {
	if prev := t.active; prev != nil {
		if t.opts.Policy == PolicyReject {
			log.Printf("selection: begin rejected, session %s still armed", prev.ID)
			return nil, ErrSessionActive
		}
		log.Printf("selection: resetting armed session %s", prev.ID)
		t.cancel(prev)
	}

	ov, err := t.surface.NewOverlay()
	if err != nil {
		return nil, fmt.Errorf("create overlay: %w", err)
	}

	s := &Session{ID: uuid.New(), tracker: t, state: StateArmed, overlay: ov}
	t.surface.SetCursor(CursorCrosshair)
	s.listeners[PointerDown] = t.surface.AddListener(PointerDown, s.onDown)
	s.listeners[PointerMove] = t.surface.AddListener(PointerMove, s.onMove)
	s.listeners[PointerUp] = t.surface.AddListener(PointerUp, s.onUp)
	t.active = s

	log.Printf("selection: session %s armed", s.ID)
	return s, nil
}

// Cancel ends the armed session without emitting a region.
// It returns false when no session is armed.
func (t *Tracker) Cancel() bool {
	if t.active == nil {
		return false
	}
	t.cancel(t.active)
	return true
}

// Cancel ends this session without emitting a region. No-op once idle.
func (s *Session) Cancel() {
	if s.state != StateArmed {
		return
	}
	s.tracker.cancel(s)
}

func (t *Tracker) cancel(s *Session) {
	t.release(s)
	log.Printf("selection: session %s cancelled", s.ID)
	if t.opts.OnCancel != nil {
		t.opts.OnCancel(s)
	}
}

// release restores the surface. It is the only exit path and runs once per session.
func (t *Tracker) release(s *Session) {
	if s.state != StateArmed {
		return
	}
	s.state = StateIdle
	t.surface.SetCursor(CursorDefault)
	t.surface.RemoveListener(PointerDown, s.listeners[PointerDown])
	t.surface.RemoveListener(PointerMove, s.listeners[PointerMove])
	t.surface.RemoveListener(PointerUp, s.listeners[PointerUp])
	if s.overlay != nil {
		if err := s.overlay.Remove(); err != nil {
			log.Printf("selection: session %s overlay remove: %v", s.ID, err)
		}
		s.overlay = nil
	}
	if t.active == s {
		t.active = nil
	}
}

func (s *Session) onDown(ev PointerEvent) {
	if s.state != StateArmed {
		return
	}
	p := ev.Point
	s.start = &p
}

func (s *Session) onMove(ev PointerEvent) {
	if s.state != StateArmed || s.start == nil {
		return
	}
	p := ev.Point
	s.end = &p
	r := screenshot.Normalize(*s.start, p)
	if err := s.overlay.Place(r.Bounds(s.tracker.opts.Scale)); err != nil {
		log.Printf("selection: session %s overlay place: %v", s.ID, err)
	}
}

func (s *Session) onUp(ev PointerEvent) {
	if s.state != StateArmed || s.start == nil {
		return
	}
	p := ev.Point
	s.end = &p
	t := s.tracker
	t.release(s)

	r := screenshot.Normalize(*s.start, p)
	log.Printf("selection: session %s completed region %+v", s.ID, r)
	if t.opts.OnRegion != nil {
		t.opts.OnRegion(s, r)
	}
}
