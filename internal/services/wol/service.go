// Package wol wakes the intermediary transfer server with a magic packet.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Prober checks whether the server accepts connections.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// TCPProber dials the address and closes the connection right away.
type TCPProber struct {
	Timeout time.Duration
}

// Probe implements Prober.
func (p *TCPProber) Probe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	prober    Prober
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		prober:    &TCPProber{Timeout: 5 * time.Second},
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, prober Prober) *Impl {
	return &Impl{
		wolClient: wolClient,
		prober:    prober,
		logger:    logger,
	}
}

// Wake sends a magic packet and, when PollAddr is set, waits until the server accepts
// TCP connections or cfg.Timeout elapses.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking transfer server")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.PollAddr == "" {
		result.WaitDuration = time.Since(start)
		result.ServerReady = true
		return result, nil
	}

	s.logger.Info().
		Str("addr", cfg.PollAddr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for transfer server")

	if err := s.waitForServer(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.ServerReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().Dur("duration", result.WaitDuration).Msg("transfer server is ready")

	return result, nil
}

func (s *Impl) waitForServer(ctx context.Context, cfg models.WOLConfig) error {
	timeout, interval := cfg.Timeout, cfg.PollInterval
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := s.prober.Probe(ctx, cfg.PollAddr)
		if err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Msg("transfer server not ready yet")

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for transfer server at %s: %w", cfg.PollAddr, ctx.Err())
		case <-ticker.C:
		}
	}
}
