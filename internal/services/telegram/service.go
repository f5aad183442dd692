// Package telegram provides Telegram notification services.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/go-telegram/bot"
	botmodels "github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for notification operations. Implementations never
// return errors: delivery failures are logged and reported as false.
type Service interface {
	Notify(ctx context.Context, text string, attachment *models.BackupArtifact) bool
}

// BotClient wraps the bot.Bot methods used here, for mocking.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botmodels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	client  BotClient
	chatID  string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a new Telegram service.
func New(logger zerolog.Logger, cfg models.TelegramConfig) (*Impl, error) {
	b, err := bot.New(cfg.BotToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewWithClient(logger, b, cfg.ChatID), nil
}

// NewWithClient creates a new Telegram service with a custom bot client (for testing).
func NewWithClient(logger zerolog.Logger, client BotClient, chatID string) *Impl {
	return &Impl{
		client:  client,
		chatID:  chatID,
		timeout: 60 * time.Second,
		logger:  logger,
	}
}

// Notify sends text, as a document caption when attachment is set.
func (s *Impl) Notify(ctx context.Context, text string, attachment *models.BackupArtifact) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Err(&models.NotifyError{Err: fmt.Errorf("panic: %v", r)}).
				Msg("failed to send Telegram notification")
			sent = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var err error
	if attachment == nil {
		err = s.sendMessage(ctx, text)
	} else {
		err = s.sendDocument(ctx, text, attachment)
	}
	if err != nil {
		s.logger.Error().
			Err(&models.NotifyError{Err: err}).
			Str("chat_id", s.chatID).
			Bool("attachment", attachment != nil).
			Msg("failed to send Telegram notification")
		return false
	}

	s.logger.Info().
		Str("chat_id", s.chatID).
		Bool("attachment", attachment != nil).
		Msg("Telegram notification sent")
	return true
}

func (s *Impl) sendMessage(ctx context.Context, text string) error {
	_, err := s.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      fitLines(text, maxMessageLength),
		ParseMode: botmodels.ParseModeHTML,
	})
	return err
}

func (s *Impl) sendDocument(ctx context.Context, caption string, artifact *models.BackupArtifact) error {
	f, err := os.Open(artifact.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	caption = fitLines(caption, maxCaptionLength)

	_, err = s.client.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: s.chatID,
		Document: &botmodels.InputFileUpload{
			Filename: filepath.Base(artifact.LocalPath),
			Data:     f,
		},
		Caption:   caption,
		ParseMode: botmodels.ParseModeHTML,
	})
	return err
}

// Disabled is used when no notification channel is configured. Every call reports
// failure so local artifacts are kept.
type Disabled struct {
	logger zerolog.Logger
}

// NewDisabled creates a notifier that only logs.
func NewDisabled(logger zerolog.Logger) *Disabled {
	return &Disabled{logger: logger}
}

// Notify implements Service.
func (d *Disabled) Notify(_ context.Context, text string, attachment *models.BackupArtifact) bool {
	ev := d.logger.Warn().Str("text", text)
	if attachment != nil {
		ev = ev.Str("attachment", attachment.LocalPath)
	}
	ev.Msg("Telegram not configured, notification skipped")
	return false
}
