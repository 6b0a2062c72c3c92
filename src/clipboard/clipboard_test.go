package clipboard

import (
	"testing"
)

func TestWriteRead(t *testing.T) {
	// Needs a desktop session.
	if err := Init(); err != nil {
		t.Skipf("clipboard unavailable: %v", err)
	}
	if err := Write("OCR結果"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := Read()
	if err != nil {
		t.Fatal(err)
	}
	if got != "OCR結果" {
		t.Errorf("Read() = %q", got)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	first := Init()
	if second := Init(); second != first {
		t.Errorf("second Init returned %v, first %v", second, first)
	}
}
