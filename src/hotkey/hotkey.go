// Package hotkey watches for the configured global shortcut.
//
// Rawcodes are Windows virtual-key codes, which is what gohook reports on
// Windows.
package hotkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"

	"gemini-ocr-capture/src/logutil"
)

const (
	vkSnapshot = 44
	vkF1       = 112
)

var namedKeys = map[string][]uint16{
	"ctrl":        {162, 163},
	"control":     {162, 163},
	"alt":         {164, 165},
	"shift":       {160, 161},
	"win":         {91, 92},
	"printscreen": {vkSnapshot},
	"space":       {32},
	"enter":       {13},
	"escape":      {27},
	"tab":         {9},
	"backspace":   {8},
	"pause":       {19},
	"insert":      {45},
	"delete":      {46},
	"home":        {36},
	"end":         {35},
	"pageup":      {33},
	"pagedown":    {34},
	"left":        {37},
	"up":          {38},
	"right":       {39},
	"down":        {40},
}

var aliases = map[string]string{
	"cmd":      "win",
	"super":    "win",
	"meta":     "win",
	"prtsc":    "printscreen",
	"prtscn":   "printscreen",
	"print":    "printscreen",
	"snapshot": "printscreen",
	"return":   "enter",
	"esc":      "escape",
	"ins":      "insert",
	"del":      "delete",
	"pgup":     "pageup",
	"pgdn":     "pagedown",
}

// Key is one element of a shortcut. Modifiers match either the left or the
// right variant.
type Key struct {
	Name     string
	Rawcodes []uint16
}

// Shortcut is a parsed key combination such as Ctrl+Alt+Q.
type Shortcut struct {
	Text string
	Keys []Key
}

// Parse reads "PrintScreen", "Ctrl+Shift+O", "Alt+F4" and the like.
func Parse(text string) (Shortcut, error) {
	sc := Shortcut{Text: strings.TrimSpace(text)}
	if sc.Text == "" {
		return Shortcut{}, fmt.Errorf("empty shortcut")
	}
	seen := map[string]bool{}
	for _, part := range strings.Split(sc.Text, "+") {
		name := normalize(part)
		if name == "" {
			return Shortcut{}, fmt.Errorf("shortcut %q has an empty key", text)
		}
		codes := rawcodes(name)
		if codes == nil {
			return Shortcut{}, fmt.Errorf("shortcut %q: unknown key %q", text, strings.TrimSpace(part))
		}
		if seen[name] {
			return Shortcut{}, fmt.Errorf("shortcut %q repeats %q", text, name)
		}
		seen[name] = true
		sc.Keys = append(sc.Keys, Key{Name: name, Rawcodes: codes})
	}
	return sc, nil
}

func normalize(part string) string {
	name := strings.ToLower(strings.TrimSpace(part))
	name = strings.ReplaceAll(name, " ", "")
	if a, ok := aliases[name]; ok {
		return a
	}
	return name
}

func rawcodes(name string) []uint16 {
	if codes, ok := namedKeys[name]; ok {
		return codes
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c-'a') + 'A'}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c)}
		}
	}
	if strings.HasPrefix(name, "f") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 24 {
			return []uint16{vkF1 + uint16(n-1)}
		}
	}
	return nil
}

// Matcher tracks key state for one shortcut. Holding the keys down fires
// once; releasing any of them re-arms it.
type Matcher struct {
	sc      Shortcut
	mu      sync.Mutex
	pressed []bool
	latched bool
}

func NewMatcher(sc Shortcut) *Matcher {
	return &Matcher{sc: sc, pressed: make([]bool, len(sc.Keys))}
}

// KeyDown records a press and reports whether the shortcut just completed.
func (m *Matcher) KeyDown(rawcode uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(rawcode)
	if i < 0 {
		return false
	}
	m.pressed[i] = true
	for _, p := range m.pressed {
		if !p {
			return false
		}
	}
	if m.latched {
		return false
	}
	m.latched = true
	return true
}

// KeyUp records a release. Windows delivers only the release for a bare
// PrintScreen, so a lone PrintScreen shortcut completes on KeyUp when no
// press was seen.
func (m *Matcher) KeyUp(rawcode uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(rawcode)
	if i < 0 {
		return false
	}
	wasPressed := m.pressed[i]
	m.pressed[i] = false
	m.latched = false
	return !wasPressed && len(m.sc.Keys) == 1 && m.sc.Keys[0].Name == "printscreen"
}

func (m *Matcher) index(rawcode uint16) int {
	for i, k := range m.sc.Keys {
		for _, c := range k.Rawcodes {
			if c == rawcode {
				return i
			}
		}
	}
	return -1
}

// Listen calls callback each time shortcut is pressed, until ctx is done.
// It blocks; run it in its own goroutine.
func Listen(ctx context.Context, shortcut string, callback func(), logger logutil.Logger) error {
	logger = logutil.OrNop(logger)
	sc, err := Parse(shortcut)
	if err != nil {
		return err
	}
	m := NewMatcher(sc)

	events := gohook.Start()
	if events == nil {
		return fmt.Errorf("keyboard hook could not be started")
	}
	defer gohook.End()
	logger.Printf("Hotkey: listening for %s", sc.Text)

	for {
		select {
		case <-ctx.Done():
			logger.Printf("Hotkey: stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("keyboard hook closed")
			}
			var fired bool
			switch ev.Kind {
			case gohook.KeyDown:
				fired = m.KeyDown(ev.Rawcode)
			case gohook.KeyUp:
				fired = m.KeyUp(ev.Rawcode)
			default:
				continue
			}
			if fired {
				logger.Printf("Hotkey: %s activated", sc.Text)
				if callback != nil {
					callback()
				}
			}
		}
	}
}
