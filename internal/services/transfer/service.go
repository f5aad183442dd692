// Package transfer retrieves saved configuration files from devices.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/rs/zerolog"
)

// ErrEmptyArtifact is returned when the retrieved file has no content.
var ErrEmptyArtifact = errors.New("retrieved file is empty")

// Service defines the interface for artifact retrieval.
type Service interface {
	Fetch(ctx context.Context, device models.DeviceConfig, remoteFilename, localDir string) (*models.BackupArtifact, error)
}

// Strategy copies one remote file into dst.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, device models.DeviceConfig, remoteFilename string, dst io.Writer) error
}

// Impl implements the transfer Service interface on top of a Strategy.
type Impl struct {
	strategy Strategy
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a transfer service using the strategy named in cfg.
func New(logger zerolog.Logger, cfg models.TransferConfig) (*Impl, error) {
	var strategy Strategy
	switch cfg.Strategy {
	case models.StrategySFTP, "":
		strategy = NewSFTP(logger, cfg.SFTP)
	case models.StrategyFTP:
		strategy = NewFTP(logger, cfg.FTP)
	default:
		return nil, fmt.Errorf("unknown transfer strategy %q", cfg.Strategy)
	}
	return NewWithStrategy(logger, strategy, cfg.Timeout), nil
}

// NewWithStrategy creates a transfer service with a custom strategy (for testing).
func NewWithStrategy(logger zerolog.Logger, strategy Strategy, timeout time.Duration) *Impl {
	return &Impl{
		strategy: strategy,
		timeout:  timeout,
		logger:   logger,
	}
}

// Fetch retrieves remoteFilename into localDir. Partial and empty files are removed and
// reported as *models.TransferError.
func (s *Impl) Fetch(ctx context.Context, device models.DeviceConfig, remoteFilename, localDir string) (*models.BackupArtifact, error) {
	start := time.Now()
	localPath := filepath.Join(localDir, filepath.Base(remoteFilename))
	fail := func(err error) (*models.BackupArtifact, error) {
		_ = os.Remove(localPath)
		return nil, &models.TransferError{Strategy: s.strategy.Name(), Path: remoteFilename, Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info().
		Str("device", device.Name).
		Str("strategy", s.strategy.Name()).
		Str("remote", remoteFilename).
		Str("local", localPath).
		Msg("retrieving artifact")

	if err := os.MkdirAll(localDir, 0o750); err != nil {
		return nil, &models.TransferError{Strategy: s.strategy.Name(), Path: remoteFilename,
			Err: fmt.Errorf("failed to create local directory: %w", err)}
	}

	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // path built from configured dir
	if err != nil {
		return nil, &models.TransferError{Strategy: s.strategy.Name(), Path: remoteFilename,
			Err: fmt.Errorf("failed to create local file: %w", err)}
	}

	retrieveErr := s.strategy.Retrieve(ctx, device, remoteFilename, f)
	closeErr := f.Close()
	if retrieveErr != nil {
		if ctx.Err() != nil && !errors.Is(retrieveErr, ctx.Err()) {
			retrieveErr = fmt.Errorf("%w: %w", ctx.Err(), retrieveErr)
		}
		return fail(retrieveErr)
	}
	if closeErr != nil {
		return fail(fmt.Errorf("failed to write local file: %w", closeErr))
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fail(err)
	}
	if info.Size() == 0 {
		return fail(ErrEmptyArtifact)
	}

	artifact := &models.BackupArtifact{
		DeviceName:     device.Name,
		RemoteFilename: remoteFilename,
		LocalPath:      localPath,
		SizeBytes:      info.Size(),
		CreatedAt:      time.Now(),
	}

	s.logger.Info().
		Str("device", device.Name).
		Str("local", localPath).
		Int64("size_bytes", artifact.SizeBytes).
		Dur("duration", time.Since(start)).
		Msg("artifact retrieved")

	return artifact, nil
}
