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
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHDialTimeout = 30 * time.Second

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSFTP() (SFTPClient, error)
	Close() error
}

// SFTPClient wraps sftp.Client for mocking.
type SFTPClient interface {
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient dials addr.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSFTP() (SFTPClient, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, err
	}
	return &defaultSFTPClient{client: client}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSFTPClient struct {
	client *sftp.Client
}

func (c *defaultSFTPClient) Open(p string) (io.ReadCloser, error) {
	f, err := c.client.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *defaultSFTPClient) Close() error {
	return c.client.Close()
}

// SFTP pulls the saved file from the device over SSH using the device credentials.
type SFTP struct {
	settings      models.SFTPSettings
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// NewSFTP creates a new SFTP strategy.
func NewSFTP(logger zerolog.Logger, settings models.SFTPSettings) *SFTP {
	return &SFTP{
		settings:      settings,
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewSFTPWithClientFactory creates a new SFTP strategy with a custom client factory (for testing).
func NewSFTPWithClientFactory(logger zerolog.Logger, settings models.SFTPSettings, factory ClientFactory) *SFTP {
	return &SFTP{
		settings:      settings,
		clientFactory: factory,
		logger:        logger,
	}
}

// Name implements Strategy.
func (s *SFTP) Name() string { return models.StrategySFTP }

func (s *SFTP) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.settings.KnownHostsPath != "" {
		callback, err := knownhosts.New(s.settings.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to parse known_hosts file: %w", err)
		}
		return callback, nil
	}
	if s.settings.InsecureSkipVerify {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly enabled in config
	}
	return nil, errors.New("no SSH host key verification configured: set known_hosts_path or insecure_skip_verify")
}

func (s *SFTP) buildConfig(ctx context.Context, device models.DeviceConfig) (*ssh.ClientConfig, error) {
	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := defaultSSHDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	password := device.Password.Reveal()
	return &ssh.ClientConfig{
		User: device.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Some devices only offer keyboard-interactive with a single password prompt.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// RemotePath is the location of the saved file on the device.
func (s *SFTP) RemotePath(remoteFilename string) string {
	dir := s.settings.RemoteDir
	if dir == "" {
		dir = "/"
	}
	return path.Join(dir, remoteFilename)
}

// Retrieve implements Strategy.
func (s *SFTP) Retrieve(ctx context.Context, device models.DeviceConfig, remoteFilename string, dst io.Writer) error {
	sshConfig, err := s.buildConfig(ctx, device)
	if err != nil {
		return err
	}

	port := s.settings.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(device.Host, strconv.Itoa(port))

	s.logger.Debug().
		Str("addr", addr).
		Str("user", device.Username).
		Msg("connecting via SSH for SFTP")

	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return fmt.Errorf("failed to connect: %w", res.err)
		}
		client = res.client
	}
	defer func() { _ = client.Close() }()

	// Closing the client aborts an in-flight copy.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	sftpClient, err := client.NewSFTP()
	if err != nil {
		return fmt.Errorf("failed to open SFTP channel: %w", err)
	}
	defer func() { _ = sftpClient.Close() }()

	remotePath := s.RemotePath(remoteFilename)
	src, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", remotePath, err)
	}
	defer func() { _ = src.Close() }()

	n, err := io.Copy(dst, src)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}

	s.logger.Debug().Str("remote", remotePath).Int64("bytes", n).Msg("SFTP copy finished")
	return nil
}
