package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up every configured device",
	Long: `Back up every configured device:
1. Announce the batch on Telegram (if configured)
2. Wake the transfer server (if configured)
3. Per device: telnet login, save the configuration, fetch the file (sftp or ftp)
4. Archive the file to restic (if configured)
5. Send the file to Telegram and delete it locally once delivered
6. Send the batch report and apply archive retention

Exits non-zero when any device failed.`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, cancelling batch")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return abort(ctx, cfg, err)
	}

	log.Info().
		Str("config", configFile).
		Int("devices", len(cfg.Devices)).
		Str("strategy", cfg.Transfer.Strategy).
		Int("concurrency", cfg.Backup.Concurrency).
		Msg("configuration loaded")

	runnerSvc, err := runner.New(log.Logger, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize services")
		return abort(ctx, cfg, err)
	}

	report, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("backup batch aborted")
		return abort(ctx, cfg, err)
	}

	if report.Failed > 0 {
		log.Error().
			Strs("failed", report.FailedDevices()).
			Str("summary", report.String()).
			Msg("backup batch finished with failures")
		return fmt.Errorf("%d of %d devices failed", report.Failed, report.Total)
	}

	log.Info().Str("summary", report.String()).Msg("backup batch completed successfully")
	return nil
}

// abort reports a batch that could not run at all and returns cause.
func abort(ctx context.Context, cfg *models.BackupConfig, cause error) error {
	var tg *models.TelegramConfig
	if cfg != nil {
		tg = cfg.Telegram
	}
	if !runner.NotifyAbort(ctx, runner.AbortNotifier(log.Logger, tg), cause) {
		log.Warn().Msg("abort notice not delivered")
	}
	return cause
}
