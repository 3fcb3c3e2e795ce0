//go:build windows

package notification

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	mbOK            = 0x00000000
	mbIconError     = 0x00000010
	mbTopMost       = 0x00040000
	mbSetForeground = 0x00010000
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procMessageBoxW = user32.NewProc("MessageBoxW")
)

// ShowBlockingError displays a modal error box and returns once it is dismissed.
func ShowBlockingError(title, message string) {
	_ = messageBox(title, message)
}

func showPopup(title, message string) error {
	return messageBox(title, message)
}

func messageBox(title, message string) error {
	titlePtr, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return err
	}
	messagePtr, err := syscall.UTF16PtrFromString(message)
	if err != nil {
		return err
	}
	if err := procMessageBoxW.Find(); err != nil {
		return err
	}
	procMessageBoxW.Call(
		0, // hwnd (no parent window)
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(mbOK|mbIconError|mbTopMost|mbSetForeground),
	)
	return nil
}
