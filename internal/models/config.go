// Package models contains the data structures used throughout oltbackup.
package models

import "time"

// Unconfirmed save policies.
const (
	UnconfirmedAccept = "accept"
	UnconfirmedReject = "reject"
)

// BackupConfig holds the complete configuration for a batch run.
type BackupConfig struct {
	Devices  []DeviceConfig
	Rejected []RejectedDevice // device records skipped while loading
	Profiles map[string]VendorProfile // overrides and additions to the built-in profiles
	Backup   BackupSettings
	Session  SessionSettings
	Transfer TransferConfig
	Telegram *TelegramConfig // nil if not configured
	Archive  *ResticConfig   // nil if not configured
	Wake     *WOLConfig      // nil if not configured
}

// RejectedDevice is a device record that could not be used.
type RejectedDevice struct {
	Name   string
	Reason string
}

// BackupSettings holds batch-level settings.
type BackupSettings struct {
	Dir             string // local directory for fetched artifacts
	FilePrefix      string
	Concurrency     int           // 1 processes devices strictly sequentially
	DeviceTimeout   time.Duration // wall-clock bound for one device
	BatchTimeout    time.Duration // wall-clock bound for the whole batch, 0 disables
	UnconfirmedSave string        // "accept" (default) or "reject"
}

// SessionSettings bounds every blocking call of the CLI session.
type SessionSettings struct {
	ConnectTimeout time.Duration
	MarkerTimeout  time.Duration
	SaveTimeout    time.Duration // wait for the save confirmation marker
}
