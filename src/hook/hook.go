// Package hook shares one global input hook between the hotkey listener and the
// selection surface, and translates raw mouse events into pointer events.
package hook

import (
	"errors"
	"image"
	"log"
	"sync"

	gohook "github.com/robotn/gohook"

	"region-capture/src/screenshot"
	"region-capture/src/selection"
)

var (
	ErrAlreadyRunning  = errors.New("input hook already running")
	ErrHookUnavailable = errors.New("input hook unavailable")
)

const (
	leftButton = 1
	// uiohook virtual code for Escape, reported on every platform.
	vcEscape = 0x0001
	// Windows VK_ESCAPE, reported as the raw code.
	vkEscape = 27
)

// Hub fans a single gohook event stream out to any number of subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan gohook.Event
	next    int
	running bool
	dropped uint64

	start func() chan gohook.Event
	stop  func()
}

// NewHub returns a hub backed by the process-wide gohook stream.
func NewHub() *Hub {
	return newHub(gohook.Start, gohook.End)
}

func newHub(start func() chan gohook.Event, stop func()) *Hub {
	return &Hub{subs: make(map[int]chan gohook.Event), start: start, stop: stop}
}

// Subscribe registers a receiver with the given buffer. The returned function
// unsubscribes and closes the channel. Events are dropped for a subscriber
// whose buffer is full.
func (h *Hub) Subscribe(buf int) (<-chan gohook.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan gohook.Event, buf)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Start begins reading the hook. It returns immediately.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	src := h.start()
	if src == nil {
		h.mu.Unlock()
		return ErrHookUnavailable
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in input hook goroutine: %v", r)
			}
		}()
		for ev := range src {
			h.fanOut(ev)
		}
		h.mu.Lock()
		h.running = false
		for id, c := range h.subs {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
		log.Printf("hook: event channel closed")
	}()
	log.Printf("hook: started")
	return nil
}

func (h *Hub) fanOut(ev gohook.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.subs {
		select {
		case c <- ev:
		default:
			h.dropped++
			if h.dropped%100 == 1 {
				log.Printf("hook: subscriber full, %d events dropped so far", h.dropped)
			}
		}
	}
}

// Stop ends the hook. Subscriber channels are closed once the stream drains.
func (h *Hub) Stop() {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if running {
		h.stop()
	}
}

// Running reports whether the hook stream is active.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// ToPointer maps a global mouse event onto the viewport whose top-left corner
// is origin. Only the left button starts and ends a drag; moves are reported
// regardless of button state. scale is device pixels per viewport unit.
func ToPointer(ev gohook.Event, origin image.Point, scale float64) (selection.PointerEvent, bool) {
	var kind selection.EventKind
	switch ev.Kind {
	case gohook.MouseHold:
		if ev.Button != leftButton {
			return selection.PointerEvent{}, false
		}
		kind = selection.PointerDown
	case gohook.MouseDown:
		// gohook reports the release of a button as MouseDown.
		if ev.Button != leftButton {
			return selection.PointerEvent{}, false
		}
		kind = selection.PointerUp
	case gohook.MouseMove, gohook.MouseDrag:
		kind = selection.PointerMove
	default:
		return selection.PointerEvent{}, false
	}
	if scale <= 0 {
		scale = 1
	}
	return selection.PointerEvent{
		Kind: kind,
		Point: screenshot.Point{
			X: float64(int(ev.X)-origin.X) / scale,
			Y: float64(int(ev.Y)-origin.Y) / scale,
		},
	}, true
}

// IsEscape reports whether ev is a press of the Escape key.
func IsEscape(ev gohook.Event) bool {
	if ev.Kind != gohook.KeyHold && ev.Kind != gohook.KeyDown {
		return false
	}
	return ev.Keycode == vcEscape || ev.Rawcode == vkEscape
}
