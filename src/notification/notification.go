// Package notification shows results and errors as desktop notifications.
package notification

import (
	"log"
	"sync"

	"github.com/gen2brain/beeep"
)

// AppName is the title used for every notification.
const AppName = "Gemini OCR Capture"

// MaxDisplayLen is the longest text shown before it is cut with "...".
const MaxDisplayLen = 200

// Backend delivers notifications. The default uses beeep.
type Backend interface {
	Notify(title, message string) error
	Alert(title, message string) error
}

type beeepBackend struct{}

func (beeepBackend) Notify(title, message string) error { return beeep.Notify(title, message, "") }
func (beeepBackend) Alert(title, message string) error  { return beeep.Alert(title, message, "") }

var (
	mu      sync.RWMutex
	backend Backend = beeepBackend{}
)

func init() {
	beeep.AppName = AppName
}

// SetBackend replaces the delivery backend and returns the previous one.
func SetBackend(b Backend) Backend {
	mu.Lock()
	defer mu.Unlock()
	prev := backend
	if b == nil {
		b = beeepBackend{}
	}
	backend = b
	return prev
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// ShowOCRResult shows text, shortened to MaxDisplayLen characters.
func ShowOCRResult(text string) {
	if err := current().Notify(AppName, Truncate(text, MaxDisplayLen)); err != nil {
		log.Printf("Notification: failed to show result: %v", err)
	}
}

// ShowBlockingError raises an alert that needs the user's attention.
func ShowBlockingError(title, message string) {
	if title == "" {
		title = AppName
	}
	if err := current().Alert(title, Truncate(message, MaxDisplayLen)); err != nil {
		log.Printf("Notification: failed to show error %q: %v", message, err)
	}
}

// Truncate shortens s to n characters, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
