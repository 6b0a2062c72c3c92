package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

// Delegate hands a capture to a running resident and waits for its answer.
// delegated is false when no resident answered, in which case the caller
// should capture by itself.
func Delegate(ctx context.Context, outputToStdout bool) (delegated bool, text string, err error) {
	port, ok := DetectResident(ctx)
	if !ok {
		return false, "", nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(residentHost, strconv.Itoa(port)))
	if err != nil {
		return false, "", nil
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := clipboardLine
	if outputToStdout {
		req = stdoutLine
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		return true, "", err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			return true, "", ctx.Err()
		}
		return true, "", err
	}
	body, _ := io.ReadAll(br)
	switch status {
	case successLine:
		return true, string(body), nil
	case errorLine:
		return true, "", errors.New(string(body))
	default:
		return true, "", errors.New("unexpected response from resident")
	}
}

// DetectResident scans the port range for a process answering PING.
func DetectResident(ctx context.Context) (int, bool) {
	timeout := 300 * time.Millisecond
	start, end := PortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if ping(net.JoinHostPort(residentHost, strconv.Itoa(port)), timeout) {
			return port, true
		}
	}
	return 0, false
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(pingLine)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongLine
}
