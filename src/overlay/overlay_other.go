//go:build !windows

package overlay

import "image"

func newPlatformWindow(viewport image.Rectangle) (Window, error) {
	return newTraceWindow(viewport)
}
