// Package screenshot grabs screen pixels for recognition.
package screenshot

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay is returned when no active display is attached.
var ErrNoDisplay = errors.New("no active displays found")

// CaptureError is a failure to read pixels from the screen.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("screen capture (%s): %v", e.Op, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// Region is a rectangle in virtual-screen coordinates.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Region) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid region dimensions: width=%d, height=%d", r.Width, r.Height)
	}
	return nil
}

// Capturer is the capture surface the session depends on.
type Capturer interface {
	CaptureRegion(Region) (*image.RGBA, error)
	CaptureFullScreen() (*image.RGBA, error)
}

// Screen captures from the attached displays.
type Screen struct{}

func (Screen) CaptureRegion(r Region) (*image.RGBA, error) { return CaptureRegion(r) }
func (Screen) CaptureFullScreen() (*image.RGBA, error)     { return CaptureFullScreen() }

// CaptureRegion captures a specific region of the screen.
func CaptureRegion(region Region) (*image.RGBA, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(region.Rect())
	if err != nil {
		return nil, &CaptureError{Op: fmt.Sprintf("region %v", region.Rect()), Err: err}
	}
	return img, nil
}

// CaptureFullScreen captures the primary display.
func CaptureFullScreen() (*image.RGBA, error) {
	bounds, err := PrimaryBounds()
	if err != nil {
		return nil, &CaptureError{Op: "primary display", Err: err}
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, &CaptureError{Op: "primary display", Err: err}
	}
	return img, nil
}

// CaptureVirtualScreen captures the union of all active displays.
func CaptureVirtualScreen() (*image.RGBA, error) {
	union, err := VirtualBounds()
	if err != nil {
		return nil, &CaptureError{Op: "virtual screen", Err: err}
	}
	img, err := screenshot.CaptureRect(union)
	if err != nil {
		return nil, &CaptureError{Op: "virtual screen", Err: err}
	}
	return img, nil
}

// PrimaryBounds returns the bounds of display 0.
func PrimaryBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, ErrNoDisplay
	}
	return screenshot.GetDisplayBounds(0), nil
}

func VirtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, ErrNoDisplay
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

// ParseRegion reads "x,y,w,h".
func ParseRegion(s string) (Region, error) {
	var r Region
	n, err := fmt.Sscanf(s, "%d,%d,%d,%d", &r.X, &r.Y, &r.Width, &r.Height)
	if err != nil || n != 4 {
		return Region{}, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}
