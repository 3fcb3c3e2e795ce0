// Package overlay provides the desktop Surface the selection tracker runs on:
// a listener registry fed by global pointer events, the cursor state, and the
// rectangle overlay drawn over the viewport.
package overlay

import (
	"image"
	"log"
	"sync"

	"region-capture/src/selection"
)

// Factory creates the platform overlay for a viewport in virtual-screen coordinates.
type Factory func(viewport image.Rectangle) (Window, error)

// Window is a platform overlay. Placements are viewport-relative device pixels.
type Window interface {
	selection.Overlay
	SetCursor(c selection.Cursor)
}

type entry struct {
	id selection.ListenerID
	h  selection.Handler
}

// Desktop implements selection.Surface for one viewport.
type Desktop struct {
	mu        sync.Mutex
	viewport  image.Rectangle
	factory   Factory
	next      selection.ListenerID
	listeners [3][]entry
	cursor    selection.Cursor
	windows   map[*trackedWindow]struct{}
}

// NewDesktop returns a surface over viewport using the platform overlay.
func NewDesktop(viewport image.Rectangle) *Desktop {
	return NewDesktopWithFactory(viewport, newPlatformWindow)
}

// NewDesktopWithFactory is NewDesktop with a custom overlay factory.
func NewDesktopWithFactory(viewport image.Rectangle, f Factory) *Desktop {
	return &Desktop{viewport: viewport, factory: f, windows: make(map[*trackedWindow]struct{})}
}

// Viewport returns the virtual-screen rectangle the surface covers.
func (d *Desktop) Viewport() image.Rectangle { return d.viewport }

func (d *Desktop) AddListener(kind selection.EventKind, h selection.Handler) selection.ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.listeners[kind] = append(d.listeners[kind], entry{id: d.next, h: h})
	return d.next
}

func (d *Desktop) RemoveListener(kind selection.EventKind, id selection.ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[kind]
	for i, e := range list {
		if e.id == id {
			d.listeners[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of registered handlers across all kinds.
func (d *Desktop) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, l := range d.listeners {
		n += len(l)
	}
	return n
}

// Deliver hands ev to every handler registered for its kind, in registration
// order, and returns how many were called. Handlers may add or remove
// listeners while running; the set is fixed when delivery starts.
func (d *Desktop) Deliver(ev selection.PointerEvent) int {
	d.mu.Lock()
	snapshot := append([]entry(nil), d.listeners[ev.Kind]...)
	d.mu.Unlock()
	for _, e := range snapshot {
		e.h(ev)
	}
	return len(snapshot)
}

func (d *Desktop) SetCursor(c selection.Cursor) {
	d.mu.Lock()
	d.cursor = c
	windows := make([]*trackedWindow, 0, len(d.windows))
	for w := range d.windows {
		windows = append(windows, w)
	}
	d.mu.Unlock()
	for _, w := range windows {
		w.Window.SetCursor(c)
	}
}

// Cursor returns the cursor last requested.
func (d *Desktop) Cursor() selection.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func (d *Desktop) NewOverlay() (selection.Overlay, error) {
	w, err := d.factory(d.viewport)
	if err != nil {
		return nil, err
	}
	tw := &trackedWindow{Window: w, desktop: d}
	d.mu.Lock()
	d.windows[tw] = struct{}{}
	c := d.cursor
	d.mu.Unlock()
	w.SetCursor(c)
	return tw, nil
}

// trackedWindow unregisters itself from the desktop on removal.
type trackedWindow struct {
	Window
	desktop *Desktop
	once    sync.Once
	err     error
}

func (t *trackedWindow) Remove() error {
	t.once.Do(func() {
		t.desktop.mu.Lock()
		delete(t.desktop.windows, t)
		t.desktop.mu.Unlock()
		t.err = t.Window.Remove()
	})
	return t.err
}

// traceWindow records placements in the log. It is the overlay on platforms
// without a native implementation, where the hook still drives selection.
type traceWindow struct {
	viewport image.Rectangle
	mu       sync.Mutex
	last     image.Rectangle
}

func newTraceWindow(viewport image.Rectangle) (Window, error) {
	log.Printf("overlay: trace overlay over %v", viewport)
	return &traceWindow{viewport: viewport}, nil
}

func (t *traceWindow) Place(r image.Rectangle) error {
	t.mu.Lock()
	t.last = r
	t.mu.Unlock()
	log.Printf("overlay: rectangle %v", r)
	return nil
}

func (t *traceWindow) Remove() error {
	log.Printf("overlay: removed")
	return nil
}

func (t *traceWindow) SetCursor(c selection.Cursor) {
	log.Printf("overlay: cursor %s", c)
}
