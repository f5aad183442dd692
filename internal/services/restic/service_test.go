package restic

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	executeWithEnvFunc func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

func (m *mockExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	if m.executeWithEnvFunc != nil {
		return m.executeWithEnvFunc(ctx, env, name, args...)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.ResticConfig {
	return models.ResticConfig{
		Repository: "/srv/archive",
		Password:   "secret",
	}
}

func testArtifact() models.BackupArtifact {
	return models.BackupArtifact{
		DeviceName:     "olt-01",
		RemoteFilename: "backup_olt-01_20240115_103000",
		LocalPath:      "/var/backups/olt/backup_olt-01_20240115_103000",
		SizeBytes:      2048,
		CreatedAt:      time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestInit_AlreadyInitialized(t *testing.T) {
	var calls [][]string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			calls = append(calls, args)
			return []byte("{}"), nil
		},
	}

	svc := NewWithExecutor(testLogger(), executor)

	require.NoError(t, svc.Init(context.Background(), testConfig()))
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"cat", "config"}, calls[0])
}

func TestInit_CreatesRepository(t *testing.T) {
	var calls [][]string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			calls = append(calls, args)
			if args[0] == "cat" {
				return []byte("Is there a repository at the following location?"), errors.New("exit status 10")
			}
			return []byte("created restic repository"), nil
		},
	}

	svc := NewWithExecutor(testLogger(), executor)

	require.NoError(t, svc.Init(context.Background(), testConfig()))
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"init"}, calls[1])
}

func TestInit_Failure(t *testing.T) {
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return []byte("permission denied"), errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	err := svc.Init(context.Background(), testConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize repository")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestArchive_Success(t *testing.T) {
	output := `{"message_type":"status","percent_done":0.5}
{"message_type":"status","percent_done":1}
{"message_type":"summary","files_new":1,"data_added":2048,"snapshot_id":"abc123def456"}
`
	var capturedArgs []string
	var capturedEnv []string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "restic", name)
			capturedArgs = args
			capturedEnv = env
			return []byte(output), nil
		},
	}

	cfg := testConfig()
	cfg.Host = "backup-host"
	svc := NewWithExecutor(testLogger(), executor)

	result, err := svc.Archive(context.Background(), cfg, testArtifact())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Error)
	assert.Equal(t, "abc123def456", result.SnapshotID)
	assert.Equal(t, int64(2048), result.DataAdded)

	assert.Equal(t, []string{
		"backup", "--json",
		"--tag", "oltbackup",
		"--tag", "device:olt-01",
		"--time", "2024-01-15 10:30:00",
		"--host", "backup-host",
		"/var/backups/olt/backup_olt-01_20240115_103000",
	}, capturedArgs)
	assert.Contains(t, capturedEnv, "RESTIC_PASSWORD=secret")
}

func TestArchive_NoHostFlagWhenUnset(t *testing.T) {
	var capturedArgs []string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			capturedArgs = args
			return []byte(`{"message_type":"summary","snapshot_id":"s1"}`), nil
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	_, err := svc.Archive(context.Background(), testConfig(), testArtifact())

	require.NoError(t, err)
	assert.NotContains(t, capturedArgs, "--host")
}

func TestArchive_Error(t *testing.T) {
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return []byte("Fatal: unable to open repository"), errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Archive(context.Background(), testConfig(), testArtifact())

	require.NoError(t, err)
	require.NotNil(t, result)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "archive failed")
	assert.Contains(t, result.Error.Error(), "unable to open repository")
}

func TestArchive_MissingSummary(t *testing.T) {
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return []byte("not json\n"), nil
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Archive(context.Background(), testConfig(), testArtifact())

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.Empty(t, result.SnapshotID)
}

func TestForget_Success(t *testing.T) {
	output := `[{"tags":["oltbackup","device:olt-01"],"keep":[{"id":"a"},{"id":"b"}],"remove":[{"id":"c"}]},` +
		`{"tags":["oltbackup","device:olt-02"],"keep":[{"id":"d"}],"remove":null}]`

	var capturedArgs []string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			capturedArgs = args
			return []byte(output), nil
		},
	}

	cfg := testConfig()
	cfg.Retention = models.RetentionPolicy{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6}
	svc := NewWithExecutor(testLogger(), executor)

	result, err := svc.Forget(context.Background(), cfg)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Error)
	assert.Equal(t, 3, result.SnapshotsKept)
	assert.Equal(t, 1, result.SnapshotsRemoved)

	assert.Equal(t, []string{
		"forget", "--prune", "--json", "--tag", "oltbackup", "--group-by", "host,tags",
		"--keep-daily", "7", "--keep-weekly", "4", "--keep-monthly", "6",
	}, capturedArgs)
}

func TestForget_SkipsZeroRetention(t *testing.T) {
	var capturedArgs []string
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			capturedArgs = args
			return []byte(`[]`), nil
		},
	}

	cfg := testConfig()
	cfg.Retention = models.RetentionPolicy{KeepDaily: 14}
	svc := NewWithExecutor(testLogger(), executor)

	_, err := svc.Forget(context.Background(), cfg)

	require.NoError(t, err)
	assert.Contains(t, capturedArgs, "--keep-daily")
	assert.NotContains(t, capturedArgs, "--keep-weekly")
	assert.NotContains(t, capturedArgs, "--keep-monthly")
}

func TestForget_Error(t *testing.T) {
	executor := &mockExecutor{
		executeWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return nil, errors.New("repository locked")
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Forget(context.Background(), testConfig())

	require.NoError(t, err)
	require.NotNil(t, result)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "forget failed")
}

func TestDeviceTag(t *testing.T) {
	assert.Equal(t, "device:olt-01", DeviceTag("olt-01"))
}

func TestBuildEnv(t *testing.T) {
	svc := New(testLogger())

	tests := []struct {
		name     string
		cfg      models.ResticConfig
		expected []string
		absent   string
	}{
		{
			name:     "local repository",
			cfg:      testConfig(),
			expected: []string{"RESTIC_REPOSITORY=/srv/archive", "RESTIC_PASSWORD=secret"},
			absent:   "RESTIC_REST_USERNAME=",
		},
		{
			name: "rest server with auth",
			cfg: models.ResticConfig{
				Repository:   "rest:http://archive:8000/olt",
				Password:     "secret",
				RestUser:     "olt",
				RestPassword: "restpass",
			},
			expected: []string{
				"RESTIC_REPOSITORY=rest:http://archive:8000/olt",
				"RESTIC_REST_USERNAME=olt",
				"RESTIC_REST_PASSWORD=restpass",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := svc.buildEnv(tt.cfg)
			for _, exp := range tt.expected {
				assert.Contains(t, env, exp)
			}
			if tt.absent != "" {
				for _, e := range env {
					assert.NotContains(t, e, tt.absent)
				}
			}
		})
	}
}
