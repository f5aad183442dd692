package main

import (
	"fmt"
	"strings"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/saver"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the configuration and device list without contacting any device.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Printf("Devices (%d):\n", len(cfg.Devices))
	for _, d := range cfg.Devices {
		fmt.Printf("  %s  %s:%d  user=%s  profile=%s\n", d.Name, d.Host, d.Port, d.Username, d.Type)
	}
	if len(cfg.Rejected) > 0 {
		fmt.Printf("Skipped device records (%d):\n", len(cfg.Rejected))
		for _, r := range cfg.Rejected {
			fmt.Printf("  %s: %s\n", r.Name, r.Reason)
		}
	}
	fmt.Println()
	fmt.Println("Backup:")
	fmt.Printf("  Directory: %s\n", cfg.Backup.Dir)
	fmt.Printf("  File prefix: %s\n", cfg.Backup.FilePrefix)
	fmt.Printf("  Concurrency: %d\n", cfg.Backup.Concurrency)
	fmt.Printf("  Device timeout: %s\n", cfg.Backup.DeviceTimeout)
	fmt.Printf("  Batch timeout: %s\n", cfg.Backup.BatchTimeout)
	fmt.Printf("  Unconfirmed save: %s\n", cfg.Backup.UnconfirmedSave)
	fmt.Println()
	fmt.Println("Session:")
	fmt.Printf("  Connect timeout: %s\n", cfg.Session.ConnectTimeout)
	fmt.Printf("  Marker timeout: %s\n", cfg.Session.MarkerTimeout)
	fmt.Printf("  Save timeout: %s\n", cfg.Session.SaveTimeout)
	fmt.Printf("  Profiles: %s\n", strings.Join(saver.ProfileNames(cfg.Profiles), ", "))
	fmt.Println()
	fmt.Println("Transfer:")
	fmt.Printf("  Strategy: %s\n", cfg.Transfer.Strategy)
	fmt.Printf("  Timeout: %s\n", cfg.Transfer.Timeout)
	if cfg.Transfer.Strategy == models.StrategyFTP {
		fmt.Printf("  Server: %s:%d\n", cfg.Transfer.FTP.Server, cfg.Transfer.FTP.Port)
		fmt.Printf("  Remote dir: %s\n", cfg.Transfer.FTP.RemoteDir)
	} else {
		fmt.Printf("  Port: %d\n", cfg.Transfer.SFTP.Port)
		fmt.Printf("  Remote dir: %s\n", cfg.Transfer.SFTP.RemoteDir)
		if cfg.Transfer.SFTP.InsecureSkipVerify {
			fmt.Println("  Host keys: NOT verified")
		} else {
			fmt.Printf("  Known hosts: %s\n", cfg.Transfer.SFTP.KnownHostsPath)
		}
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Archive: %v\n", cfg.Archive != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.Wake != nil)

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Archive != nil {
		fmt.Println()
		fmt.Println("Archive Configuration:")
		fmt.Printf("  Repository: %s\n", cfg.Archive.Repository)
		fmt.Printf("  Host: %s\n", cfg.Archive.Host)
		fmt.Printf("  Keep daily/weekly/monthly: %d/%d/%d\n",
			cfg.Archive.Retention.KeepDaily, cfg.Archive.Retention.KeepWeekly, cfg.Archive.Retention.KeepMonthly)
	}

	if cfg.Wake != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.Wake.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.Wake.BroadcastIP)
		if cfg.Wake.PollAddr != "" {
			fmt.Printf("  Poll address: %s\n", cfg.Wake.PollAddr)
		}
	}

	return nil
}
