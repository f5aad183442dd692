// Package saver drives a device CLI through login and configuration save.
package saver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/session"
	"github.com/rs/zerolog"
)

// TimestampFormat is used in generated artifact file names.
const TimestampFormat = "20060102_150405"

// Service defines the interface for configuration save operations.
type Service interface {
	Save(ctx context.Context, req Request) (*models.SaveResult, error)
}

// Request describes one save attempt.
type Request struct {
	Device   models.DeviceConfig
	Profile  models.VendorProfile
	Filename string
	Server   string // substituted for {server} in the save command, for push transfers
}

// Impl implements the saver Service interface.
type Impl struct {
	transport session.Transport
	settings  models.SessionSettings
	logger    zerolog.Logger
}

// New creates a new saver service talking telnet.
func New(logger zerolog.Logger, settings models.SessionSettings) *Impl {
	return &Impl{
		transport: session.New(logger),
		settings:  settings,
		logger:    logger,
	}
}

// NewWithTransport creates a new saver service with a custom transport (for testing).
func NewWithTransport(logger zerolog.Logger, transport session.Transport, settings models.SessionSettings) *Impl {
	return &Impl{
		transport: transport,
		settings:  settings,
		logger:    logger,
	}
}

// Save logs in, enters configuration mode, issues the save command and waits for the
// confirmation marker. A missing confirmation is not an error: the result ends in
// StateSaveUnconfirmed. Any other failure is reported in result.Error.
func (s *Impl) Save(ctx context.Context, req Request) (*models.SaveResult, error) {
	start := time.Now()
	result := &models.SaveResult{
		Filename:  req.Filename,
		LastState: models.StateDisconnected,
	}
	logger := s.logger.With().Str("device", req.Device.Name).Logger()

	sess, err := s.transport.Open(ctx, req.Device.Host, req.Device.Port, s.settings.ConnectTimeout)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer func() {
		_ = sess.Close()
		result.Duration = time.Since(start)
		logger.Debug().
			Str("last_state", string(result.LastState)).
			Dur("duration", result.Duration).
			Msg("session closed")
	}()

	d := &dialogue{
		sess:    sess,
		result:  result,
		logger:  logger,
		timeout: s.settings.MarkerTimeout,
	}
	d.enter(models.StateAwaitingLogin)

	p := req.Profile
	steps := []func(context.Context) error{
		func(ctx context.Context) error { return d.expectAndSend(ctx, p.LoginMarker, req.Device.Username) },
		func(ctx context.Context) error {
			d.enter(models.StateAwaitingPassword)
			return d.expectAndSend(ctx, p.PasswordMarker, req.Device.Password.Reveal())
		},
		func(ctx context.Context) error {
			if _, err := d.expect(ctx, p.WelcomeMarker, d.timeout); err != nil {
				return err
			}
			d.enter(models.StateAuthenticated)
			return nil
		},
		func(ctx context.Context) error {
			if p.ConfigCommand == "" {
				d.enter(models.StateConfigMode)
				return nil
			}
			if err := d.send(p.ConfigCommand); err != nil {
				return err
			}
			if p.ConfigMarker != "" {
				if _, err := d.expect(ctx, p.ConfigMarker, d.timeout); err != nil {
					return err
				}
			}
			d.enter(models.StateConfigMode)
			return nil
		},
		func(ctx context.Context) error {
			cmd := SaveCommand(p.SaveCommand, req.Filename, req.Server)
			logger.Info().Str("file", req.Filename).Msg("issuing save command")
			if err := d.send(cmd); err != nil {
				return err
			}
			d.enter(models.StateSaveIssued)
			return nil
		},
	}

	for _, step := range steps {
		if err := step(ctx); err != nil {
			result.Error = fmt.Errorf("%s: %w", result.LastState, err)
			logger.Warn().Err(err).Str("state", string(result.LastState)).Msg("save dialogue aborted")
			return result, nil
		}
	}

	out, err := d.expect(ctx, p.ConfirmationMarker, s.settings.SaveTimeout)
	var timeoutErr *models.ProtocolTimeout
	switch {
	case err == nil:
		result.Confirmed = true
		result.Transcript = out
		d.enter(models.StateSaveConfirmed)
	case errors.As(err, &timeoutErr):
		result.Transcript = timeoutErr.Captured
		d.enter(models.StateSaveUnconfirmed)
		logger.Warn().
			Str("marker", p.ConfirmationMarker).
			Dur("timeout", s.settings.SaveTimeout).
			Msg("save confirmation not observed")
	default:
		result.Error = fmt.Errorf("%s: %w", result.LastState, err)
		logger.Warn().Err(err).Msg("session failed while waiting for save confirmation")
		return result, nil
	}

	// Leaving config mode is best effort, the session is closed either way.
	for _, cmd := range p.ExitCommands {
		if err := d.send(cmd); err != nil {
			logger.Debug().Err(err).Str("command", cmd).Msg("exit command not sent")
			break
		}
	}

	return result, nil
}

type dialogue struct {
	sess    session.Session
	result  *models.SaveResult
	logger  zerolog.Logger
	timeout time.Duration
}

func (d *dialogue) enter(state models.SaveState) {
	d.logger.Debug().
		Str("from", string(d.result.LastState)).
		Str("to", string(state)).
		Msg("state transition")
	d.result.LastState = state
}

func (d *dialogue) expect(ctx context.Context, marker string, timeout time.Duration) (string, error) {
	out, err := d.sess.AwaitMarker(ctx, marker, timeout)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (d *dialogue) send(text string) error {
	if err := d.sess.Send(text); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

func (d *dialogue) expectAndSend(ctx context.Context, marker, text string) error {
	if _, err := d.expect(ctx, marker, d.timeout); err != nil {
		return err
	}
	return d.send(text)
}

// SaveCommand expands the {filename} and {server} placeholders.
func SaveCommand(template, filename, server string) string {
	return strings.NewReplacer("{filename}", filename, "{server}", server).Replace(template)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename builds the artifact name <prefix>_<device>_<timestamp>.
func Filename(prefix, deviceName string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, ArtifactStem(deviceName), at.Format(TimestampFormat))
}

// ArtifactStem is the device part of the artifact name. A name that needs sanitizing is
// suffixed with a hash of the raw name, so "olt a" and "olt/a" get different files.
func ArtifactStem(deviceName string) string {
	safe := unsafeChars.ReplaceAllString(deviceName, "-")
	if safe == deviceName && safe != "" {
		return safe
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceName))
	return fmt.Sprintf("%s-%08x", safe, h.Sum32())
}
