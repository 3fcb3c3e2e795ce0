package notification

import (
	"log"
)

const maxMessageLen = 200

// ShowError tells the user that a capture failed without blocking the caller.
func ShowError(title, message string) {
	message = truncate(message)
	log.Printf("notification: %s: %s", title, message)
	go func() {
		if err := showPopup(title, message); err != nil {
			log.Printf("Failed to show notification: %v", err)
		}
	}()
}

func truncate(s string) string {
	if len(s) > maxMessageLen {
		return s[:maxMessageLen] + "..."
	}
	return s
}
