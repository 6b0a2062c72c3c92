package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"gemini-ocr-capture/src/logutil"
)

// ErrAlreadyRunning means another resident holds the port.
var ErrAlreadyRunning = errors.New("another instance is already running")

const handshakeTimeout = 3 * time.Second

// Server owns the first port of the range. Only one process can hold it.
type Server struct {
	logger   logutil.Logger
	lis      net.Listener
	incoming chan *Conn
	port     int

	closeOnce sync.Once
}

func NewServer(logger logutil.Logger) *Server {
	return &Server{logger: logutil.OrNop(logger), incoming: make(chan *Conn, 8)}
}

// Start binds the first port of the range and begins accepting requests.
func (s *Server) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	start, _ := PortRange()
	addr := fmt.Sprintf("%s:%d", residentHost, start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w (port %d: %v)", ErrAlreadyRunning, start, err)
	}
	s.lis = lis
	s.port = lis.Addr().(*net.TCPAddr).Port
	s.logger.Printf("singleinstance: listening on %s", lis.Addr())
	go s.acceptLoop(ctx)
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int { return s.port }

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
		br := bufio.NewReader(c)
		line, _ := br.ReadString('\n')

		switch line {
		case pingLine:
			_, _ = c.Write([]byte(pongLine))
			_ = c.Close()
			continue
		case stdoutLine, clipboardLine:
		default:
			s.logger.Printf("singleinstance: unknown request %q from %s", strings.TrimSpace(line), c.RemoteAddr())
			_ = c.Close()
			continue
		}

		_ = c.SetDeadline(time.Time{})
		conn := &Conn{c: c, req: Request{OutputToStdout: line == stdoutLine}}
		s.logger.Printf("singleinstance: capture request from %s (stdout=%v)", c.RemoteAddr(), conn.req.OutputToStdout)
		select {
		case s.incoming <- conn:
		case <-ctx.Done():
			_ = c.Close()
			return
		}
	}
}

// Next returns the next capture request, or ctx's error.
func (s *Server) Next(ctx context.Context) (*Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-s.incoming:
		if !ok {
			return nil, net.ErrClosed
		}
		return c, nil
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.lis != nil {
			err = s.lis.Close()
		}
	})
	return err
}

// Conn is one pending capture request. Exactly one Respond call answers it.
type Conn struct {
	c   net.Conn
	req Request
}

func (c *Conn) Request() Request { return c.req }

// RespondSuccess answers the request. text is only sent for stdout requests.
func (c *Conn) RespondSuccess(text string) error {
	defer c.c.Close()
	msg := successLine
	if c.req.OutputToStdout {
		msg += text
	}
	_, err := c.c.Write([]byte(msg))
	return err
}

func (c *Conn) RespondError(message string) error {
	defer c.c.Close()
	_, err := c.c.Write([]byte(errorLine + message))
	return err
}
