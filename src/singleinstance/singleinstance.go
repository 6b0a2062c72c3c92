// Package singleinstance lets one resident process own a loopback port and
// serve capture requests from later run-once invocations.
//
// Wire protocol, one request per connection:
//
//	client: PING\n              server: PONG\n
//	client: CAPTURE STDOUT\n    server: SUCCESS\n<text> | ERROR\n<message>
//	client: CAPTURE CLIPBOARD\n server: SUCCESS\n       | ERROR\n<message>
package singleinstance

import (
	"os"
	"strconv"
)

const (
	PortStartEnvVar = "GEMINI_OCR_CAPTURE_PORT_START"
	PortEndEnvVar   = "GEMINI_OCR_CAPTURE_PORT_END"

	defaultPortStart = 49600
	defaultPortEnd   = 49610

	minPort = 1024
	maxPort = 65535

	residentHost = "127.0.0.1"

	pingLine      = "PING\n"
	pongLine      = "PONG\n"
	stdoutLine    = "CAPTURE STDOUT\n"
	clipboardLine = "CAPTURE CLIPBOARD\n"
	successLine   = "SUCCESS\n"
	errorLine     = "ERROR\n"
)

// BusyMessage is the ERROR body a resident sends while a capture is running.
const BusyMessage = "a capture is already in progress"

// Request is what a run-once client asked for.
type Request struct {
	OutputToStdout bool
}

// PortRange returns the inclusive port range from the environment, clamped
// to [1024, 65535].
func PortRange() (int, int) {
	start := envInt(PortStartEnvVar, defaultPortStart)
	end := envInt(PortEndEnvVar, defaultPortEnd)
	if end < start {
		start, end = end, start
	}
	start = min(max(start, minPort), maxPort)
	end = min(max(end, start), maxPort)
	return start, end
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
