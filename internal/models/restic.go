package models

import "time"

// ResticConfig holds the restic repository used to archive artifacts.
type ResticConfig struct {
	Repository   string
	Password     string
	RestUser     string // optional, for REST server auth
	RestPassword string // optional, for REST server auth
	Host         string // host name recorded in snapshots
	Retention    RetentionPolicy
}

// RetentionPolicy defines how many snapshots to keep.
type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
}

// ArchiveResult holds the result of archiving one artifact.
type ArchiveResult struct {
	SnapshotID string
	DataAdded  int64
	Duration   time.Duration
	Error      error
}

// ForgetResult holds the result of a forget operation.
type ForgetResult struct {
	SnapshotsRemoved int
	SnapshotsKept    int
	Duration         time.Duration
	Error            error
}
