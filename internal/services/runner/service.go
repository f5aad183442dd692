// Package runner orchestrates the OLT backup batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/restic"
	"github.com/fgeck/oltbackup/internal/services/saver"
	"github.com/fgeck/oltbackup/internal/services/telegram"
	"github.com/fgeck/oltbackup/internal/services/transfer"
	"github.com/fgeck/oltbackup/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoDevices aborts a batch that has nothing to process.
var ErrNoDevices = errors.New("no devices configured")

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.BatchReport, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	saverSvc    saver.Service
	transferSvc transfer.Service
	notifier    telegram.Service
	wolSvc      wol.Service
	resticSvc   restic.Service
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service wired for cfg.
func New(logger zerolog.Logger, cfg models.BackupConfig) (*Impl, error) {
	transferSvc, err := transfer.New(logger, cfg.Transfer)
	if err != nil {
		return nil, err
	}

	var notifier telegram.Service = telegram.NewDisabled(logger)
	if cfg.Telegram != nil {
		tg, err := telegram.New(logger, *cfg.Telegram)
		if err != nil {
			return nil, err
		}
		notifier = tg
	}

	return NewWithServices(
		logger,
		saver.New(logger, cfg.Session),
		transferSvc,
		notifier,
		wol.New(logger),
		restic.New(logger),
	), nil
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	saverSvc saver.Service,
	transferSvc transfer.Service,
	notifier telegram.Service,
	wolSvc wol.Service,
	resticSvc restic.Service,
) *Impl {
	return &Impl{
		saverSvc:    saverSvc,
		transferSvc: transferSvc,
		notifier:    notifier,
		wolSvc:      wolSvc,
		resticSvc:   resticSvc,
		logger:      logger,
		now:         time.Now,
	}
}

// Run processes every device and returns the report in input order. Per-device failures
// are recorded in the report; only an empty device list returns an error.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.BatchReport, error) {
	if len(cfg.Devices) == 0 {
		return nil, ErrNoDevices
	}

	start := s.now()
	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Logger()

	logger.Info().
		Int("devices", len(cfg.Devices)).
		Int("concurrency", concurrency(cfg.Backup)).
		Str("strategy", cfg.Transfer.Strategy).
		Msg("starting backup batch")

	// The report is sent even after the batch deadline has passed.
	reportCtx := context.WithoutCancel(ctx)

	s.notifier.Notify(ctx, telegram.FormatStart(runID, len(cfg.Devices)+len(cfg.Rejected)), nil)

	var wakeErr error
	if cfg.Wake != nil {
		wakeErr = s.wake(ctx, logger, *cfg.Wake)
	}

	archive := cfg.Archive
	if archive != nil {
		if err := s.resticSvc.Init(ctx, *archive); err != nil {
			logger.Error().Err(err).Msg("archive repository unavailable, archiving disabled for this batch")
			archive = nil
		}
	}

	if cfg.Backup.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Backup.BatchTimeout)
		defer cancel()
	}

	results := make([]models.BackupResult, len(cfg.Devices))
	g := new(errgroup.Group)
	g.SetLimit(concurrency(cfg.Backup))
	for i, device := range cfg.Devices {
		g.Go(func() error {
			results[i] = s.processDevice(ctx, logger, cfg, archive, device)
			return nil
		})
	}
	_ = g.Wait()
	results = append(results, rejectedResults(cfg.Rejected)...)

	report := models.NewBatchReport(runID, start, results)
	report.WakeError = wakeErr

	logger.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("backup batch completed")

	if archive != nil {
		s.applyRetention(reportCtx, logger, *archive)
	}

	if !s.notifier.Notify(reportCtx, telegram.FormatReport(report), nil) {
		logger.Warn().Msg("batch report not delivered")
	}

	return report, nil
}

func (s *Impl) processDevice(
	ctx context.Context,
	logger zerolog.Logger,
	cfg models.BackupConfig,
	archive *models.ResticConfig,
	device models.DeviceConfig,
) models.BackupResult {
	start := time.Now()
	result := models.BackupResult{DeviceName: device.Name}
	logger = logger.With().Str("device", device.Name).Logger()
	defer func() {
		result.Duration = time.Since(start)
		logger.Info().
			Str("outcome", string(result.Status())).
			Str("detail", result.Detail).
			Dur("duration", result.Duration).
			Msg("device processed")
	}()

	if cfg.Backup.DeviceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Backup.DeviceTimeout)
		defer cancel()
	}

	profile, err := saver.LookupProfile(device.Type, cfg.Profiles)
	if err != nil {
		result.Outcome = models.OutcomeSaveFailed
		result.Detail = err.Error()
		return result
	}

	filename := saver.Filename(cfg.Backup.FilePrefix, device.Name, s.now())
	saveResult, err := s.saverSvc.Save(ctx, saver.Request{
		Device:   device,
		Profile:  profile,
		Filename: filename,
		Server:   pushServer(cfg.Transfer),
	})
	if err == nil {
		err = saveResult.Error
	}
	if err != nil {
		result.Outcome = models.OutcomeSaveFailed
		result.Detail = err.Error()
		return result
	}

	artifact, err := s.transferSvc.Fetch(ctx, device, filename, cfg.Backup.Dir)
	if err != nil {
		result.Outcome = models.OutcomeTransferFailed
		result.Detail = err.Error()
		if !saveResult.Confirmed {
			result.Detail += "; " + models.ErrUnconfirmedSave.Error()
		}
		return result
	}
	result.Artifact = artifact
	result.Outcome = models.OutcomeSuccess

	if !saveResult.Confirmed {
		result.Detail = models.ErrUnconfirmedSave.Error()
		if cfg.Backup.UnconfirmedSave == models.UnconfirmedReject {
			result.Outcome = models.OutcomeSaveFailed
		}
	}

	if archive != nil {
		s.archive(ctx, logger, *archive, &result)
	}

	if !s.notifier.Notify(ctx, telegram.FormatCaption(result), artifact) {
		result.NotifyErr = &models.NotifyError{Err: fmt.Errorf("artifact %s not delivered", artifact.RemoteFilename)}
		logger.Warn().Str("path", artifact.LocalPath).Msg("artifact kept on disk")
		return result
	}

	if err := os.Remove(artifact.LocalPath); err != nil {
		logger.Warn().Err(err).Str("path", artifact.LocalPath).Msg("failed to remove delivered artifact")
	}

	return result
}

func (s *Impl) wake(ctx context.Context, logger zerolog.Logger, cfg models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		logger.Warn().Err(err).Msg("transfer server wake failed, continuing")
		return fmt.Errorf("WOL failed: %w", err)
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("server_ready", result.ServerReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) archive(ctx context.Context, logger zerolog.Logger, cfg models.ResticConfig, result *models.BackupResult) {
	archived, err := s.resticSvc.Archive(ctx, cfg, *result.Artifact)
	if err == nil {
		err = archived.Error
	}
	if err == nil {
		return
	}

	logger.Warn().Err(err).Msg("artifact not archived")
	if result.Detail != "" {
		result.Detail += "; "
	}
	result.Detail += "archive: " + err.Error()
}

func (s *Impl) applyRetention(ctx context.Context, logger zerolog.Logger, cfg models.ResticConfig) {
	if cfg.Retention == (models.RetentionPolicy{}) {
		return
	}
	forgetResult, err := s.resticSvc.Forget(ctx, cfg)
	if err == nil {
		err = forgetResult.Error
	}
	if err != nil {
		logger.Warn().Err(err).Msg("archive retention failed")
	}
}

// rejectedResults reports device records dropped at load time after the processed devices.
func rejectedResults(rejected []models.RejectedDevice) []models.BackupResult {
	results := make([]models.BackupResult, 0, len(rejected))
	for _, r := range rejected {
		results = append(results, models.BackupResult{
			DeviceName: r.Name,
			Outcome:    models.OutcomeSaveFailed,
			Detail:     "invalid device configuration: " + r.Reason,
		})
	}
	return results
}

// pushServer is the address devices upload to when the file is fetched from an intermediary.
func pushServer(cfg models.TransferConfig) string {
	if cfg.Strategy == models.StrategyFTP {
		return cfg.FTP.Server
	}
	return ""
}

func concurrency(settings models.BackupSettings) int {
	if settings.Concurrency < 1 {
		return 1
	}
	return settings.Concurrency
}
