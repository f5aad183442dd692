package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
)

const defaultFTPTimeout = 30 * time.Second

// FTPConn wraps ftp.ServerConn for mocking.
type FTPConn interface {
	Login(user, password string) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// FTPDialer creates FTP connections.
type FTPDialer interface {
	Dial(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error)
}

// DefaultFTPDialer dials with jlaffaye/ftp.
type DefaultFTPDialer struct{}

// Dial connects to addr.
func (d *DefaultFTPDialer) Dial(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return &defaultFTPConn{conn: conn}, nil
}

type defaultFTPConn struct {
	conn *ftp.ServerConn
}

func (c *defaultFTPConn) Login(user, password string) error {
	return c.conn.Login(user, password)
}

func (c *defaultFTPConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := c.conn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *defaultFTPConn) Quit() error {
	return c.conn.Quit()
}

// FTP fetches a file that the device pushed to an intermediary server during the save.
// The device credentials are not used.
type FTP struct {
	settings models.FTPSettings
	dialer   FTPDialer
	logger   zerolog.Logger
}

// NewFTP creates a new FTP strategy.
func NewFTP(logger zerolog.Logger, settings models.FTPSettings) *FTP {
	return &FTP{
		settings: settings,
		dialer:   &DefaultFTPDialer{},
		logger:   logger,
	}
}

// NewFTPWithDialer creates a new FTP strategy with a custom dialer (for testing).
func NewFTPWithDialer(logger zerolog.Logger, settings models.FTPSettings, dialer FTPDialer) *FTP {
	return &FTP{
		settings: settings,
		dialer:   dialer,
		logger:   logger,
	}
}

// Name implements Strategy.
func (s *FTP) Name() string { return models.StrategyFTP }

// Retrieve implements Strategy.
func (s *FTP) Retrieve(ctx context.Context, device models.DeviceConfig, remoteFilename string, dst io.Writer) error {
	if s.settings.Server == "" {
		return errors.New("ftp server not configured")
	}
	port := s.settings.Port
	if port == 0 {
		port = 21
	}
	addr := net.JoinHostPort(s.settings.Server, strconv.Itoa(port))

	timeout := defaultFTPTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	s.logger.Debug().
		Str("device", device.Name).
		Str("addr", addr).
		Msg("connecting to transfer server")

	conn, err := s.dialer.Dial(ctx, addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = conn.Quit() }()

	user, password := s.settings.Username, s.settings.Password.Reveal()
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if err := conn.Login(user, password); err != nil {
		return fmt.Errorf("failed to log in as %s: %w", user, err)
	}

	remotePath := path.Join(s.settings.RemoteDir, remoteFilename)
	src, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("failed to retrieve %s: %w", remotePath, err)
	}
	defer func() { _ = src.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	n, err := io.Copy(dst, src)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}

	s.logger.Debug().Str("remote", remotePath).Int64("bytes", n).Msg("FTP copy finished")
	return nil
}
