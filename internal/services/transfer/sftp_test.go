package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations.
type mockSFTPClient struct {
	openFunc func(path string) (io.ReadCloser, error)
	closed   bool
}

func (m *mockSFTPClient) Open(path string) (io.ReadCloser, error) {
	if m.openFunc != nil {
		return m.openFunc(path)
	}
	return io.NopCloser(strings.NewReader("config")), nil
}

func (m *mockSFTPClient) Close() error {
	m.closed = true
	return nil
}

type mockSSHClient struct {
	newSFTPFunc func() (SFTPClient, error)
	closed      bool
}

func (m *mockSSHClient) NewSFTP() (SFTPClient, error) {
	if m.newSFTPFunc != nil {
		return m.newSFTPFunc()
	}
	return &mockSFTPClient{}, nil
}

func (m *mockSSHClient) Close() error {
	m.closed = true
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

func insecureSettings() models.SFTPSettings {
	return models.SFTPSettings{InsecureSkipVerify: true}
}

func TestSFTP_Retrieve_Success(t *testing.T) {
	var capturedAddr, capturedPath string
	var capturedConfig *ssh.ClientConfig
	sftpClient := &mockSFTPClient{
		openFunc: func(path string) (io.ReadCloser, error) {
			capturedPath = path
			return io.NopCloser(strings.NewReader("hostname olt1\n")), nil
		},
	}
	sshClient := &mockSSHClient{
		newSFTPFunc: func() (SFTPClient, error) { return sftpClient, nil },
	}
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			capturedAddr = addr
			capturedConfig = config
			return sshClient, nil
		},
	}

	strategy := NewSFTPWithClientFactory(testLogger(), insecureSettings(), factory)
	var buf bytes.Buffer
	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", &buf)

	require.NoError(t, err)
	assert.Equal(t, "hostname olt1\n", buf.String())
	assert.Equal(t, "10.0.0.1:22", capturedAddr)
	assert.Equal(t, "/backup_olt1", capturedPath)
	assert.Equal(t, "admin", capturedConfig.User)
	assert.Len(t, capturedConfig.Auth, 2)
	assert.True(t, sshClient.closed)
	assert.True(t, sftpClient.closed)
}

func TestSFTP_Retrieve_CustomPortAndDir(t *testing.T) {
	var capturedAddr, capturedPath string
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			capturedAddr = addr
			return &mockSSHClient{
				newSFTPFunc: func() (SFTPClient, error) {
					return &mockSFTPClient{
						openFunc: func(path string) (io.ReadCloser, error) {
							capturedPath = path
							return io.NopCloser(strings.NewReader("x")), nil
						},
					}, nil
				},
			}, nil
		},
	}

	settings := insecureSettings()
	settings.Port = 2222
	settings.RemoteDir = "/flash/config"
	strategy := NewSFTPWithClientFactory(testLogger(), settings, factory)

	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", io.Discard)

	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:2222", capturedAddr)
	assert.Equal(t, "/flash/config/backup_olt1", capturedPath)
}

func TestSFTP_Retrieve_RequiresHostKeyPolicy(t *testing.T) {
	strategy := NewSFTPWithClientFactory(testLogger(), models.SFTPSettings{}, &mockClientFactory{})

	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts_path")
}

func TestSFTP_Retrieve_MissingKnownHostsFile(t *testing.T) {
	settings := models.SFTPSettings{KnownHostsPath: "/nonexistent/known_hosts"}
	strategy := NewSFTPWithClientFactory(testLogger(), settings, &mockClientFactory{})

	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")
}

func TestSFTP_Retrieve_ConnectFailure(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("ssh: handshake failed: unable to authenticate")
		},
	}
	strategy := NewSFTPWithClientFactory(testLogger(), insecureSettings(), factory)

	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestSFTP_Retrieve_FileMissing(t *testing.T) {
	sshClient := &mockSSHClient{
		newSFTPFunc: func() (SFTPClient, error) {
			return &mockSFTPClient{
				openFunc: func(path string) (io.ReadCloser, error) {
					return nil, errors.New("file does not exist")
				},
			}, nil
		},
	}
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return sshClient, nil
		},
	}
	strategy := NewSFTPWithClientFactory(testLogger(), insecureSettings(), factory)

	err := strategy.Retrieve(context.Background(), testDevice(), "backup_olt1", io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "/backup_olt1")
	assert.True(t, sshClient.closed)
}

func TestSFTP_Retrieve_DialHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			<-release
			return &mockSSHClient{}, nil
		},
	}
	strategy := NewSFTPWithClientFactory(testLogger(), insecureSettings(), factory)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := strategy.Retrieve(ctx, testDevice(), "backup_olt1", io.Discard)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSFTP_BuildConfig_DefaultTimeout(t *testing.T) {
	strategy := NewSFTPWithClientFactory(testLogger(), insecureSettings(), &mockClientFactory{})

	cfg, err := strategy.buildConfig(context.Background(), testDevice())
	require.NoError(t, err)
	assert.Equal(t, defaultSSHDialTimeout, cfg.Timeout)
}
