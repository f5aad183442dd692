// Package restic archives retrieved artifacts into a restic repository.
package restic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/rs/zerolog"
)

// ArchiveTag is attached to every snapshot created by oltbackup.
const ArchiveTag = "oltbackup"

// Service defines the interface for artifact archival.
type Service interface {
	Init(ctx context.Context, cfg models.ResticConfig) error
	Archive(ctx context.Context, cfg models.ResticConfig, artifact models.BackupArtifact) (*models.ArchiveResult, error)
	Forget(ctx context.Context, cfg models.ResticConfig) (*models.ForgetResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new restic service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new restic service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Repository credentials travel in the environment, never on the command line.
func (s *Impl) buildEnv(cfg models.ResticConfig) []string {
	env := []string{
		fmt.Sprintf("RESTIC_REPOSITORY=%s", cfg.Repository),
		fmt.Sprintf("RESTIC_PASSWORD=%s", cfg.Password),
	}

	if cfg.RestUser != "" {
		env = append(env, fmt.Sprintf("RESTIC_REST_USERNAME=%s", cfg.RestUser))
	}
	if cfg.RestPassword != "" {
		env = append(env, fmt.Sprintf("RESTIC_REST_PASSWORD=%s", cfg.RestPassword))
	}

	return env
}

// DeviceTag identifies the snapshots of one device.
func DeviceTag(deviceName string) string {
	return "device:" + deviceName
}

// Init initializes the repository if it doesn't exist.
func (s *Impl) Init(ctx context.Context, cfg models.ResticConfig) error {
	s.logger.Debug().Str("repository", cfg.Repository).Msg("checking archive repository")

	env := s.buildEnv(cfg)

	if _, err := s.executor.ExecuteWithEnv(ctx, env, "restic", "cat", "config"); err == nil {
		return nil
	}

	s.logger.Info().Str("repository", cfg.Repository).Msg("initializing archive repository")
	output, err := s.executor.ExecuteWithEnv(ctx, env, "restic", "init")
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w, output: %s", err, string(output))
	}

	return nil
}

// backupSummary is the summary part of restic backup --json output.
type backupSummary struct {
	MessageType string `json:"message_type"`
	DataAdded   int64  `json:"data_added"`
	SnapshotID  string `json:"snapshot_id"`
}

// Archive stores one artifact as its own snapshot, tagged with the device name and dated
// with the artifact's creation time.
func (s *Impl) Archive(ctx context.Context, cfg models.ResticConfig, artifact models.BackupArtifact) (*models.ArchiveResult, error) {
	start := time.Now()
	env := s.buildEnv(cfg)

	args := []string{"backup", "--json",
		"--tag", ArchiveTag,
		"--tag", DeviceTag(artifact.DeviceName),
		"--time", artifact.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if cfg.Host != "" {
		args = append(args, "--host", cfg.Host)
	}
	args = append(args, filepath.Clean(artifact.LocalPath))

	output, err := s.executor.ExecuteWithEnv(ctx, env, "restic", args...)
	if err != nil {
		return &models.ArchiveResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("archive failed: %w, output: %s", err, string(output)),
		}, nil
	}

	var summary backupSummary
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var msg backupSummary
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" {
			summary = msg
			break
		}
	}

	result := &models.ArchiveResult{
		SnapshotID: summary.SnapshotID,
		DataAdded:  summary.DataAdded,
		Duration:   time.Since(start),
	}

	s.logger.Info().
		Str("device", artifact.DeviceName).
		Str("snapshot_id", result.SnapshotID).
		Int64("data_added", result.DataAdded).
		Msg("artifact archived")

	return result, nil
}

// forgetGroup is the JSON structure returned by restic forget --json.
type forgetGroup struct {
	Keep   []json.RawMessage `json:"keep"`
	Remove []json.RawMessage `json:"remove"`
}

// Forget applies the retention policy per device to snapshots created by oltbackup.
func (s *Impl) Forget(ctx context.Context, cfg models.ResticConfig) (*models.ForgetResult, error) {
	policy := cfg.Retention
	start := time.Now()
	env := s.buildEnv(cfg)

	args := []string{"forget", "--prune", "--json", "--tag", ArchiveTag, "--group-by", "host,tags"}
	if policy.KeepDaily > 0 {
		args = append(args, "--keep-daily", strconv.Itoa(policy.KeepDaily))
	}
	if policy.KeepWeekly > 0 {
		args = append(args, "--keep-weekly", strconv.Itoa(policy.KeepWeekly))
	}
	if policy.KeepMonthly > 0 {
		args = append(args, "--keep-monthly", strconv.Itoa(policy.KeepMonthly))
	}

	output, err := s.executor.ExecuteWithEnv(ctx, env, "restic", args...)
	if err != nil {
		return &models.ForgetResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("forget failed: %w, output: %s", err, string(output)),
		}, nil
	}

	var groups []forgetGroup
	if err := json.Unmarshal(output, &groups); err != nil {
		s.logger.Debug().Err(err).Msg("could not parse forget output")
	}

	result := &models.ForgetResult{Duration: time.Since(start)}
	for _, group := range groups {
		result.SnapshotsKept += len(group.Keep)
		result.SnapshotsRemoved += len(group.Remove)
	}

	s.logger.Info().
		Int("kept", result.SnapshotsKept).
		Int("removed", result.SnapshotsRemoved).
		Dur("duration", result.Duration).
		Msg("archive retention applied")

	return result, nil
}
