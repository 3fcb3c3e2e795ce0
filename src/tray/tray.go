package tray

import (
	"log"
	"sync"

	"github.com/getlantern/systray"
)

const defaultTooltip = "Region Capture"

// Options wires the tray menu to the application.
type Options struct {
	// OnCapture runs when "Capture Region" is clicked.
	OnCapture func()
	// OnReady runs once the tray is up.
	OnReady func()
	// OnExit runs after the tray loop ends.
	OnExit func()
}

var (
	mu     sync.Mutex
	ready  bool
	mAbout *systray.MenuItem
)

// Run shows the tray icon and blocks until Quit. It must be called from the main goroutine.
func Run(opts Options) {
	systray.Run(func() { onReady(opts) }, func() {
		mu.Lock()
		ready = false
		mu.Unlock()
		if opts.OnExit != nil {
			opts.OnExit()
		}
	})
}

func onReady(opts Options) {
	systray.SetIcon(iconBytes())
	systray.SetTitle(defaultTooltip)
	systray.SetTooltip(defaultTooltip)

	mCapture := systray.AddMenuItem("Capture Region", "Drag to select a region of the screen")
	systray.AddSeparator()
	about := systray.AddMenuItem("About", "Region Capture")
	about.Disable()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	mu.Lock()
	ready = true
	mAbout = about
	mu.Unlock()

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				log.Printf("tray: capture requested")
				if opts.OnCapture != nil {
					opts.OnCapture()
				}
			case <-mQuit.ClickedCh:
				log.Printf("tray: quit requested")
				systray.Quit()
				return
			}
		}
	}()

	if opts.OnReady != nil {
		opts.OnReady()
	}
}

// UpdateTooltip sets the tray tooltip; empty restores the default. No-op before Run.
func UpdateTooltip(text string) {
	mu.Lock()
	defer mu.Unlock()
	if !ready {
		return
	}
	if text == "" {
		text = defaultTooltip
	}
	systray.SetTooltip(text)
}

// SetAboutExtra shows extra detail in the disabled About item.
func SetAboutExtra(text string) {
	mu.Lock()
	defer mu.Unlock()
	if !ready || mAbout == nil {
		return
	}
	mAbout.SetTitle("About: " + text)
}

// Quit ends Run.
func Quit() { systray.Quit() }
