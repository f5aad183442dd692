package main

import (
	"github.com/fgeck/oltbackup/internal/config"
	"github.com/fgeck/oltbackup/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// loadConfig loads the env file and the configuration. The env file is only required when
// --env-file was given explicitly.
func loadConfig(cmd *cobra.Command) (*models.BackupConfig, error) {
	if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return nil, err
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	for _, w := range parser.Warnings() {
		log.Warn().Msg(w)
	}
	return cfg, err
}
