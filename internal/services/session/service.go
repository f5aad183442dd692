// Package session provides a line-oriented telnet session to a device CLI.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/rs/zerolog"
)

// Transport opens sessions to devices.
type Transport interface {
	Open(ctx context.Context, host string, port int, connectTimeout time.Duration) (Session, error)
}

// Session is a single remote CLI session. It must not be shared between devices.
type Session interface {
	// AwaitMarker returns the output received up to and including marker.
	AwaitMarker(ctx context.Context, marker string, timeout time.Duration) (string, error)
	// Send writes text followed by the line ending.
	Send(text string) error
	// Close is idempotent.
	Close() error
}

// Dialer allows mocking net connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Impl implements Transport over telnet.
type Impl struct {
	dialer     Dialer
	logger     zerolog.Logger
	lineEnding string
}

// New creates a new telnet transport.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		dialer:     &net.Dialer{},
		logger:     logger,
		lineEnding: "\n",
	}
}

// NewWithDialer creates a new telnet transport with a custom dialer (for testing).
func NewWithDialer(logger zerolog.Logger, dialer Dialer) *Impl {
	return &Impl{
		dialer:     dialer,
		logger:     logger,
		lineEnding: "\n",
	}
}

// Open connects to host:port within connectTimeout.
func (t *Impl) Open(ctx context.Context, host string, port int, connectTimeout time.Duration) (Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	t.logger.Debug().Str("addr", addr).Dur("timeout", connectTimeout).Msg("opening telnet session")

	conn, err := t.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &models.ConnectError{Addr: addr, Err: err}
	}

	return &telnetSession{
		conn:       conn,
		logger:     t.logger.With().Str("addr", addr).Logger(),
		lineEnding: t.lineEnding,
	}, nil
}

type telnetSession struct {
	conn       net.Conn
	logger     zerolog.Logger
	lineEnding string

	filter  iacFilter
	pending []byte // filtered output not yet consumed by AwaitMarker

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *telnetSession) AwaitMarker(ctx context.Context, marker string, timeout time.Duration) (string, error) {
	if marker == "" {
		return "", fmt.Errorf("empty marker")
	}
	want := []byte(marker)

	if out, ok := s.consume(want); ok {
		return out, nil
	}

	deadline := time.Now().Add(timeout)
	ctxDeadline, hasCtxDeadline := ctx.Deadline()
	if hasCtxDeadline && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("setting read deadline: %w", err)
	}
	// Unblock the read immediately when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data, reply := s.filter.feed(buf[:n])
			if len(reply) > 0 {
				if werr := s.write(reply); werr != nil {
					return "", fmt.Errorf("answering option negotiation: %w", werr)
				}
			}
			s.pending = append(s.pending, data...)
			if out, ok := s.consume(want); ok {
				s.logger.Trace().Str("marker", marker).Msg("marker seen")
				return out, nil
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("waiting for %q: %w", marker, ctx.Err())
		}
		// The context timer may not have fired yet when both deadlines coincide.
		if hasCtxDeadline && !time.Now().Before(ctxDeadline) {
			return "", fmt.Errorf("waiting for %q: %w", marker, context.DeadlineExceeded)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", &models.ProtocolTimeout{
				Marker:   marker,
				Timeout:  timeout,
				Captured: string(s.pending),
			}
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("waiting for %q: %w", marker, models.ErrSessionClosed)
		}
		return "", fmt.Errorf("reading session: %w", err)
	}
}

// consume returns the pending output up to and including marker, if present.
func (s *telnetSession) consume(marker []byte) (string, bool) {
	idx := bytes.Index(s.pending, marker)
	if idx < 0 {
		return "", false
	}
	end := idx + len(marker)
	out := string(s.pending[:end])
	s.pending = append(s.pending[:0], s.pending[end:]...)
	return out, true
}

func (s *telnetSession) Send(text string) error {
	return s.write(escapeIAC([]byte(text + s.lineEnding)))
}

func (s *telnetSession) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *telnetSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.logger.Debug().Msg("telnet session closed")
	})
	return s.closeErr
}
