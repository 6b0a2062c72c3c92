//go:build !windows

package main

import (
	"log"

	"gemini-ocr-capture/src/screenshot"
)

func enableDPIAwareness() {}

func logMonitorConfiguration() {
	if b, err := screenshot.VirtualBounds(); err == nil {
		log.Printf("MONITOR: virtual screen %v", b)
	}
}
