// Package clipboard publishes recognized text to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

// ErrUnavailable is returned by Write when Init failed or was never called.
var ErrUnavailable = errors.New("clipboard is not available")

var (
	initOnce sync.Once
	initErr  error
	ready    bool

	writeMu sync.Mutex
)

// Init prepares the clipboard. It is safe to call more than once; later calls
// return the first result.
func Init() error {
	initOnce.Do(func() {
		if err := clipboard.Init(); err != nil {
			initErr = fmt.Errorf("init clipboard: %w", err)
			return
		}
		ready = true
	})
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return err
	}
	if !ready {
		return ErrUnavailable
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Read returns the current text contents, mainly for tests and diagnostics.
func Read() (string, error) {
	if err := Init(); err != nil {
		return "", err
	}
	return string(clipboard.Read(clipboard.FmtText)), nil
}
