package runner

import (
	"context"
	"os"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Environment fallback for abort notices when the config file itself is unusable.
const (
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
)

// AbortNotifier returns the notifier to report a batch that could not start. It uses cfg
// when set and falls back to the environment, then to a disabled notifier.
func AbortNotifier(logger zerolog.Logger, cfg *models.TelegramConfig) telegram.Service {
	if cfg == nil || cfg.BotToken == "" || cfg.ChatID == "" {
		token, chatID := os.Getenv(EnvTelegramBotToken), os.Getenv(EnvTelegramChatID)
		if token == "" || chatID == "" {
			return telegram.NewDisabled(logger)
		}
		cfg = &models.TelegramConfig{BotToken: token, ChatID: chatID}
	}

	tg, err := telegram.New(logger, *cfg)
	if err != nil {
		logger.Error().Err(err).Msg("cannot build abort notifier")
		return telegram.NewDisabled(logger)
	}
	return tg
}

// NotifyAbort tells the operator the batch was aborted before processing any device.
func NotifyAbort(ctx context.Context, notifier telegram.Service, cause error) bool {
	return notifier.Notify(ctx, telegram.FormatAbort(cause), nil)
}
