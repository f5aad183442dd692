package models

import (
	"fmt"
	"time"
)

// SaveState is a step of the configuration save dialogue.
type SaveState string

// Save dialogue states, in order.
const (
	StateDisconnected     SaveState = "disconnected"
	StateAwaitingLogin    SaveState = "awaiting_login"
	StateAwaitingPassword SaveState = "awaiting_password"
	StateAuthenticated    SaveState = "authenticated"
	StateConfigMode       SaveState = "config_mode"
	StateSaveIssued       SaveState = "save_issued"
	StateSaveConfirmed    SaveState = "save_confirmed"
	StateSaveUnconfirmed  SaveState = "save_unconfirmed"
)

// SaveResult holds the result of a configuration save dialogue.
type SaveResult struct {
	Filename   string
	LastState  SaveState // furthest state reached before disconnecting
	Confirmed  bool
	Transcript string // device output captured while waiting for the save confirmation
	Duration   time.Duration
	Error      error
}

// Saved reports whether the device accepted the save command, confirmed or not.
func (r *SaveResult) Saved() bool {
	return r.Error == nil &&
		(r.LastState == StateSaveConfirmed || r.LastState == StateSaveUnconfirmed)
}

// BackupArtifact is a configuration file retrieved from a device.
type BackupArtifact struct {
	DeviceName     string
	RemoteFilename string
	LocalPath      string
	SizeBytes      int64
	CreatedAt      time.Time
}

// Outcome classifies how far the pipeline got for one device.
type Outcome string

// Device outcomes.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomeSaveFailed     Outcome = "save_failed"
	OutcomeTransferFailed Outcome = "transfer_failed"
	OutcomeNotifyFailed   Outcome = "notify_failed"
)

// BackupResult is the final record for one device.
type BackupResult struct {
	DeviceName string
	Outcome    Outcome
	Detail     string
	Artifact   *BackupArtifact // nil unless the fetch succeeded
	NotifyErr  error           // set when the artifact notification was not delivered
	Duration   time.Duration
}

// Succeeded reports whether the backup itself succeeded.
func (r BackupResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Status is the outcome to display; a delivered-but-unnotified backup shows as NotifyFailed.
func (r BackupResult) Status() Outcome {
	if r.Outcome == OutcomeSuccess && r.NotifyErr != nil {
		return OutcomeNotifyFailed
	}
	return r.Outcome
}

// BatchReport aggregates the results of one batch, in input order.
type BatchReport struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Total     int
	Succeeded int
	Failed    int
	Results   []BackupResult
	WakeError error // set when the transfer server could not be woken
}

// NewBatchReport computes the counters from results.
func NewBatchReport(runID string, start time.Time, results []BackupResult) *BatchReport {
	report := &BatchReport{
		RunID:     runID,
		StartTime: start,
		Duration:  time.Since(start),
		Total:     len(results),
		Results:   results,
	}
	for _, r := range results {
		if r.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

// FailedDevices returns the names of the devices that did not succeed.
func (r *BatchReport) FailedDevices() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Succeeded() {
			names = append(names, res.DeviceName)
		}
	}
	return names
}

// String renders a one-line summary.
func (r *BatchReport) String() string {
	return fmt.Sprintf("total=%d succeeded=%d failed=%d", r.Total, r.Succeeded, r.Failed)
}
