package hotkey

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		names []string
	}{
		{"PrintScreen", []string{"printscreen"}},
		{"PrtSc", []string{"printscreen"}},
		{"Ctrl+Alt+Q", []string{"ctrl", "alt", "q"}},
		{"ctrl + shift + o", []string{"ctrl", "shift", "o"}},
		{"Alt+F4", []string{"alt", "f4"}},
		{"Win+Shift+S", []string{"win", "shift", "s"}},
		{"Super+Alt+T", []string{"win", "alt", "t"}},
		{"Ctrl+Page Up", []string{"ctrl", "pageup"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sc, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			var names []string
			for _, k := range sc.Keys {
				names = append(names, k.Name)
			}
			if !slices.Equal(names, tt.names) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, names, tt.names)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "  ", "Ctrl+", "Ctrl+Hyper", "F25", "Ctrl+ctrl+A"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestRawcodes(t *testing.T) {
	tests := []struct {
		name string
		want []uint16
	}{
		{"ctrl", []uint16{162, 163}},
		{"alt", []uint16{164, 165}},
		{"shift", []uint16{160, 161}},
		{"win", []uint16{91, 92}},
		{"printscreen", []uint16{44}},
		{"a", []uint16{65}},
		{"q", []uint16{81}},
		{"z", []uint16{90}},
		{"0", []uint16{48}},
		{"9", []uint16{57}},
		{"f1", []uint16{112}},
		{"f12", []uint16{123}},
		{"f24", []uint16{135}},
		{"space", []uint16{32}},
		{"escape", []uint16{27}},
		{"f0", nil},
		{"unknown", nil},
	}
	for _, tt := range tests {
		if got := rawcodes(tt.name); !slices.Equal(got, tt.want) {
			t.Errorf("rawcodes(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMatcherCombination(t *testing.T) {
	sc, _ := Parse("Ctrl+Alt+Q")
	m := NewMatcher(sc)

	if m.KeyDown(162) || m.KeyDown(165) {
		t.Fatal("fired before all keys were down")
	}
	if !m.KeyDown(81) {
		t.Fatal("did not fire on the final key")
	}
	// Auto-repeat while held.
	if m.KeyDown(81) {
		t.Error("fired again while the keys were held")
	}

	m.KeyDown(163)
	m.KeyDown(164)
	m.KeyUp(164)
	if m.KeyDown(81) {
		t.Error("fired after alt was released")
	}
	if m.KeyDown(70) {
		t.Error("unrelated key fired the shortcut")
	}
}

func TestMatcherPrintScreen(t *testing.T) {
	sc, _ := Parse("PrintScreen")
	m := NewMatcher(sc)

	if !m.KeyDown(vkSnapshot) {
		t.Error("press did not fire")
	}
	if m.KeyUp(vkSnapshot) {
		t.Error("release after a fired press must not fire again")
	}
	// Only the release arrives.
	if !m.KeyUp(vkSnapshot) {
		t.Error("lone release did not fire")
	}
}

func TestMatcherKeyUpOnlyForPrintScreen(t *testing.T) {
	sc, _ := Parse("F9")
	m := NewMatcher(sc)
	if m.KeyUp(120) {
		t.Error("release fired a non-PrintScreen shortcut")
	}
}
