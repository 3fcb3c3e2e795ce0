//go:build windows

package overlay

import (
	"fmt"
	"image"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"region-capture/src/selection"
)

const (
	wsExLayered     = 0x00080000
	wsExTransparent = 0x00000020
	wsExToolWindow  = 0x00000080
	wsExNoActivate  = 0x08000000
	lwaAlpha        = 0x00000002
	swpAsync        = 0x00004000

	shieldAlpha    = 1
	rectangleAlpha = 90
	rectangleColor = 0x00D77800 // BGR, a light blue tint
)

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	gdi32                          = windows.NewLazySystemDLL("gdi32.dll")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
	procCreateSolidBrush           = gdi32.NewProc("CreateSolidBrush")

	registerOnce sync.Once
	registerErr  error
	shieldClass  = syscall.StringToUTF16Ptr("RegionCaptureShield")
	rectClass    = syscall.StringToUTF16Ptr("RegionCaptureRect")

	crossCursor win.HCURSOR
	arrowCursor win.HCURSOR

	// Read by the shield's WM_SETCURSOR handler on the window thread.
	shieldCursors sync.Map // win.HWND -> *atomic.Int32
)

func registerClasses() error {
	registerOnce.Do(func() {
		crossCursor = win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS))
		arrowCursor = win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_ARROW))
		brush, _, _ := procCreateSolidBrush.Call(uintptr(rectangleColor))

		for _, c := range []struct {
			name  *uint16
			brush win.HBRUSH
		}{
			{shieldClass, 0},
			{rectClass, win.HBRUSH(brush)},
		} {
			wc := win.WNDCLASSEX{
				CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
				LpfnWndProc:   syscall.NewCallback(wndProc),
				HInstance:     win.GetModuleHandle(nil),
				HCursor:       arrowCursor,
				HbrBackground: c.brush,
				LpszClassName: c.name,
			}
			if win.RegisterClassEx(&wc) == 0 {
				registerErr = fmt.Errorf("register overlay window class")
				return
			}
		}
	})
	return registerErr
}

func wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case win.WM_SETCURSOR:
		if v, ok := shieldCursors.Load(hwnd); ok {
			if selection.Cursor(v.(*atomic.Int32).Load()) == selection.CursorCrosshair {
				win.SetCursor(crossCursor)
			} else {
				win.SetCursor(arrowCursor)
			}
			return 1
		}
	case win.WM_DESTROY:
		if _, ok := shieldCursors.LoadAndDelete(hwnd); ok {
			win.PostQuitMessage(0)
		}
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// nativeWindow is two layered topmost windows owned by one locked OS thread:
// a nearly invisible shield covering the viewport, so the drag does not reach
// the applications underneath, and a tinted click-through rectangle.
type nativeWindow struct {
	viewport image.Rectangle
	shield   win.HWND
	rect     win.HWND
	cursor   *atomic.Int32
	done     chan struct{}
}

func newPlatformWindow(viewport image.Rectangle) (Window, error) {
	if err := registerClasses(); err != nil {
		return nil, err
	}
	w := &nativeWindow{viewport: viewport, cursor: new(atomic.Int32), done: make(chan struct{})}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

func (w *nativeWindow) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	inst := win.GetModuleHandle(nil)
	v := w.viewport
	w.shield = win.CreateWindowEx(
		win.WS_EX_TOPMOST|wsExLayered|wsExToolWindow|wsExNoActivate,
		shieldClass, nil, win.WS_POPUP,
		int32(v.Min.X), int32(v.Min.Y), int32(v.Dx()), int32(v.Dy()),
		0, 0, inst, nil,
	)
	if w.shield == 0 {
		ready <- fmt.Errorf("create shield window")
		return
	}
	shieldCursors.Store(w.shield, w.cursor)
	w.rect = win.CreateWindowEx(
		win.WS_EX_TOPMOST|wsExLayered|wsExTransparent|wsExToolWindow|wsExNoActivate,
		rectClass, nil, win.WS_POPUP,
		0, 0, 0, 0,
		w.shield, 0, inst, nil,
	)
	if w.rect == 0 {
		win.DestroyWindow(w.shield)
		ready <- fmt.Errorf("create rectangle window")
		return
	}
	procSetLayeredWindowAttributes.Call(uintptr(w.shield), 0, shieldAlpha, lwaAlpha)
	procSetLayeredWindowAttributes.Call(uintptr(w.rect), 0, rectangleAlpha, lwaAlpha)
	win.ShowWindow(w.shield, win.SW_SHOWNOACTIVATE)
	ready <- nil

	var msg win.MSG
	for {
		ret := win.GetMessage(&msg, 0, 0, 0)
		if ret == 0 || ret == -1 {
			return
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
}

func (w *nativeWindow) Place(r image.Rectangle) error {
	if r.Empty() {
		win.ShowWindow(w.rect, win.SW_HIDE)
		return nil
	}
	x := int32(w.viewport.Min.X + r.Min.X)
	y := int32(w.viewport.Min.Y + r.Min.Y)
	if !win.SetWindowPos(w.rect, win.HWND_TOPMOST, x, y, int32(r.Dx()), int32(r.Dy()),
		win.SWP_NOACTIVATE|win.SWP_SHOWWINDOW|swpAsync) {
		return fmt.Errorf("position overlay at %v", r)
	}
	return nil
}

func (w *nativeWindow) SetCursor(c selection.Cursor) {
	w.cursor.Store(int32(c))
}

func (w *nativeWindow) Remove() error {
	// Destroying the owner also destroys the rectangle and ends the thread's loop.
	win.PostMessage(w.shield, win.WM_CLOSE, 0, 0)
	<-w.done
	log.Printf("overlay: native overlay removed")
	return nil
}
