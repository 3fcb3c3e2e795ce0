package hotkey

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	gohook "github.com/robotn/gohook"
)

// ErrNoKeys is returned when no key of the combination maps to a rawcode.
var ErrNoKeys = errors.New("no valid keys in hotkey")

// Listen watches events for the hotkey combination and calls callback each
// time every key of it is held at once. It returns after validating the
// combination; detection runs until events is closed.
func Listen(events <-chan gohook.Event, hotkeyConfig string, callback func()) error {
	keys := parseHotkey(hotkeyConfig)
	log.Printf("Parsed hotkey configuration: %v", keys)

	type keyState struct {
		name     string
		rawcodes []uint16
		pressed  bool
	}

	var keyStates []keyState
	for _, keyName := range keys {
		rawcodes := keyNameToRawcodes(keyName)
		if len(rawcodes) == 0 {
			log.Printf("ERROR: Cannot map key '%s' to rawcodes, hotkey may not work correctly", keyName)
			continue
		}
		keyStates = append(keyStates, keyState{name: keyName, rawcodes: rawcodes})
	}
	if len(keyStates) == 0 {
		return fmt.Errorf("%w: %q", ErrNoKeys, hotkeyConfig)
	}

	log.Printf("Hotkey listener configured for: %s", hotkeyConfig)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()

		// set marks the key matching rawcode and reports whether it was one of ours.
		set := func(rawcode uint16, pressed bool) bool {
			for i := range keyStates {
				for _, rc := range keyStates[i].rawcodes {
					if rc == rawcode {
						keyStates[i].pressed = pressed
						return true
					}
				}
			}
			return false
		}

		for ev := range events {
			switch ev.Kind {
			case gohook.KeyDown, gohook.KeyHold:
				if !set(ev.Rawcode, true) {
					continue
				}
				allPressed := true
				for i := range keyStates {
					if !keyStates[i].pressed {
						allPressed = false
						break
					}
				}
				if !allPressed {
					continue
				}
				log.Printf("Hotkey activated: %s", hotkeyConfig)
				for i := range keyStates {
					keyStates[i].pressed = false
				}
				if callback != nil {
					callback()
				}
			case gohook.KeyUp:
				set(ev.Rawcode, false)
			}
		}
		log.Printf("Hotkey event channel closed")
	}()
	return nil
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "win", "cmd", "super":
			keys = append(keys, "cmd")
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

var specialKeys = map[string][]uint16{
	// Modifiers, left and right variants
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"win":   {91, 92},   // VK_LWIN, VK_RWIN
	"cmd":   {91, 92},
	"super": {91, 92},

	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},

	"printscreen": {44}, // VK_SNAPSHOT
	"prtsc":       {44},
}

// keyNameToRawcodes maps a key name to its Windows virtual key code rawcodes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if codes, ok := specialKeys[keyName]; ok {
		return codes
	}
	if len(keyName) == 1 {
		c := keyName[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(65 + c - 'a')} // VK 0x41-0x5A
		case c >= '0' && c <= '9':
			return []uint16{uint16(48 + c - '0')} // VK 0x30-0x39
		}
	}
	if strings.HasPrefix(keyName, "f") {
		if n, err := strconv.Atoi(keyName[1:]); err == nil && n >= 1 && n <= 24 {
			return []uint16{uint16(111 + n)} // VK_F1 = 112
		}
	}
	log.Printf("WARNING: Unknown key name '%s', cannot map to rawcode", keyName)
	return nil
}
