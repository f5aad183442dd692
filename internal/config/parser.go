// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/fgeck/oltbackup/internal/services/saver"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvDeviceNames lists device names for the environment device convention.
const EnvDeviceNames = "OLT_NAMES"

// Defaults applied when a key is absent.
const (
	DefaultDir             = "./backups"
	DefaultFilePrefix      = "backup"
	DefaultConnectTimeout  = 30 * time.Second
	DefaultMarkerTimeout   = 15 * time.Second
	DefaultSaveTimeout     = 30 * time.Second
	DefaultTransferTimeout = 60 * time.Second
	DefaultDeviceTimeout   = 5 * time.Minute
	DefaultBatchTimeout    = time.Hour
)

// Parser handles configuration file parsing.
type Parser struct {
	v        *viper.Viper
	lookup   func(string) (string, bool)
	warnings []string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v, lookup: os.LookupEnv}
}

// LoadEnvFile loads variables from a .env file into the process environment. Variables
// already set win. A missing file is an error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// LoadFile loads configuration from a file path. An empty path parses an empty document,
// so the device list comes from the environment. On validation errors the parsed
// configuration is returned alongside the error.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	if path == "" {
		return p.LoadReader("")
	}

	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// Warnings returns non-fatal problems found while parsing, such as skipped env devices.
func (p *Parser) Warnings() []string {
	return p.warnings
}

type deviceEntry struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Type     string `mapstructure:"type"`
}

type profileEntry struct {
	LoginMarker        string   `mapstructure:"login_marker"`
	PasswordMarker     string   `mapstructure:"password_marker"`
	WelcomeMarker      string   `mapstructure:"welcome_marker"`
	ConfigCommand      string   `mapstructure:"config_command"`
	ConfigMarker       string   `mapstructure:"config_marker"`
	SaveCommand        string   `mapstructure:"save_command"`
	ConfirmationMarker string   `mapstructure:"confirmation_marker"`
	ExitCommands       []string `mapstructure:"exit_commands"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}
	p.warnings = nil

	var entries []deviceEntry
	if err := p.v.UnmarshalKey("devices", &entries); err != nil {
		return nil, fmt.Errorf("parsing devices: %w", err)
	}
	for _, e := range entries {
		cfg.Devices = append(cfg.Devices, models.DeviceConfig{
			Name:     e.Name,
			Host:     p.expandEnv(e.Host),
			Port:     e.Port,
			Username: p.expandEnv(e.Username),
			Password: models.Secret(p.expandEnv(e.Password)),
			Type:     e.Type,
		})
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = p.devicesFromEnv(cfg)
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].Port == 0 {
			cfg.Devices[i].Port = models.DefaultTelnetPort
		}
		if cfg.Devices[i].Type == "" {
			cfg.Devices[i].Type = saver.DefaultProfile
		}
	}

	var profiles map[string]profileEntry
	if err := p.v.UnmarshalKey("profiles", &profiles); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	if len(profiles) > 0 {
		cfg.Profiles = make(map[string]models.VendorProfile, len(profiles))
		for name, e := range profiles {
			cfg.Profiles[strings.ToLower(name)] = models.VendorProfile(e)
		}
	}
	p.dropUnusableDevices(cfg)

	cfg.Backup = models.BackupSettings{
		Dir:             p.expandEnv(p.v.GetString("backup.dir")),
		FilePrefix:      p.v.GetString("backup.file_prefix"),
		Concurrency:     p.v.GetInt("backup.concurrency"),
		DeviceTimeout:   p.durationOr("backup.device_timeout", DefaultDeviceTimeout),
		BatchTimeout:    p.durationOr("backup.batch_timeout", DefaultBatchTimeout),
		UnconfirmedSave: strings.ToLower(p.v.GetString("backup.unconfirmed_save")),
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = DefaultDir
	}
	if cfg.Backup.FilePrefix == "" {
		cfg.Backup.FilePrefix = DefaultFilePrefix
	}
	if cfg.Backup.Concurrency == 0 {
		cfg.Backup.Concurrency = 1
	}
	if cfg.Backup.UnconfirmedSave == "" {
		cfg.Backup.UnconfirmedSave = models.UnconfirmedAccept
	}

	cfg.Session = models.SessionSettings{
		ConnectTimeout: p.durationOr("session.connect_timeout", DefaultConnectTimeout),
		MarkerTimeout:  p.durationOr("session.marker_timeout", DefaultMarkerTimeout),
		SaveTimeout:    p.durationOr("session.save_timeout", DefaultSaveTimeout),
	}

	cfg.Transfer = models.TransferConfig{
		Strategy: strings.ToLower(p.v.GetString("transfer.strategy")),
		Timeout:  p.durationOr("transfer.timeout", DefaultTransferTimeout),
		SFTP: models.SFTPSettings{
			Port:               p.v.GetInt("transfer.sftp.port"),
			RemoteDir:          p.v.GetString("transfer.sftp.remote_dir"),
			KnownHostsPath:     p.expandEnv(p.v.GetString("transfer.sftp.known_hosts_path")),
			InsecureSkipVerify: p.v.GetBool("transfer.sftp.insecure_skip_verify"),
		},
		FTP: models.FTPSettings{
			Server:    p.expandEnv(p.v.GetString("transfer.ftp.server")),
			Port:      p.v.GetInt("transfer.ftp.port"),
			Username:  p.expandEnv(p.v.GetString("transfer.ftp.username")),
			Password:  models.Secret(p.expandEnv(p.v.GetString("transfer.ftp.password"))),
			RemoteDir: p.v.GetString("transfer.ftp.remote_dir"),
		},
	}
	if cfg.Transfer.Strategy == "" {
		cfg.Transfer.Strategy = models.StrategySFTP
	}
	if cfg.Transfer.SFTP.Port == 0 {
		cfg.Transfer.SFTP.Port = 22
	}
	if cfg.Transfer.SFTP.RemoteDir == "" {
		cfg.Transfer.SFTP.RemoteDir = "/"
	}
	if cfg.Transfer.FTP.Port == 0 {
		cfg.Transfer.FTP.Port = 21
	}

	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
	}

	if p.v.IsSet("archive") {
		cfg.Archive = &models.ResticConfig{
			Repository:   p.expandEnv(p.v.GetString("archive.repository")),
			Password:     p.expandEnv(p.v.GetString("archive.password")),
			RestUser:     p.expandEnv(p.v.GetString("archive.rest_user")),
			RestPassword: p.expandEnv(p.v.GetString("archive.rest_password")),
			Host:         p.v.GetString("archive.host"),
			Retention: models.RetentionPolicy{
				KeepDaily:   p.v.GetInt("archive.retention.keep_daily"),
				KeepWeekly:  p.v.GetInt("archive.retention.keep_weekly"),
				KeepMonthly: p.v.GetInt("archive.retention.keep_monthly"),
			},
		}
		if cfg.Archive.Host == "" {
			if hostname, err := os.Hostname(); err == nil {
				cfg.Archive.Host = hostname
			}
		}
	}

	if p.v.IsSet("wake") {
		cfg.Wake = &models.WOLConfig{
			MACAddress:    p.v.GetString("wake.mac_address"),
			BroadcastIP:   p.v.GetString("wake.broadcast_ip"),
			PollAddr:      p.v.GetString("wake.poll_addr"),
			Timeout:       p.durationOr("wake.timeout", 5*time.Minute),
			PollInterval:  p.durationOr("wake.poll_interval", 10*time.Second),
			StabilizeWait: p.v.GetDuration("wake.stabilize_wait"),
		}
		if cfg.Wake.BroadcastIP == "" {
			cfg.Wake.BroadcastIP = "255.255.255.255"
		}
	}

	// The config is returned with validation errors so callers can still reach the operator.
	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// devicesFromEnv reads OLT_NAMES=a,b with OLT_<name>_IP, _USER, _PASS and the optional
// _PORT and _TYPE. Incomplete devices are skipped with a warning.
func (p *Parser) devicesFromEnv(cfg *models.BackupConfig) []models.DeviceConfig {
	names, _ := p.lookup(EnvDeviceNames)
	var devices []models.DeviceConfig
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		get := func(suffix string) string {
			v, _ := p.lookup("OLT_" + name + "_" + suffix)
			return strings.TrimSpace(v)
		}

		d := models.DeviceConfig{
			Name:     name,
			Host:     get("IP"),
			Username: get("USER"),
			Password: models.Secret(get("PASS")),
			Type:     get("TYPE"),
		}
		if d.Host == "" || d.Username == "" || d.Password == "" {
			p.reject(cfg, name, "incomplete environment configuration")
			continue
		}
		if port := get("PORT"); port != "" {
			n, err := strconv.Atoi(port)
			if err != nil {
				p.reject(cfg, name, fmt.Sprintf("invalid port %q", port))
				continue
			}
			d.Port = n
		}
		devices = append(devices, d)
	}
	return devices
}

// dropUnusableDevices removes invalid, duplicate and colliding device records so the rest
// of the batch can still run. Each removal is recorded as a warning and in cfg.Rejected.
func (p *Parser) dropUnusableDevices(cfg *models.BackupConfig) {
	names := make(map[string]bool, len(cfg.Devices))
	stems := make(map[string]string, len(cfg.Devices))
	var kept []models.DeviceConfig
	for _, d := range cfg.Devices {
		if err := deviceProblem(d, cfg.Profiles, names, stems); err != nil {
			p.reject(cfg, d.Name, flatten(err))
			continue
		}
		names[d.Name] = true
		stems[saver.ArtifactStem(d.Name)] = d.Name
		kept = append(kept, d)
	}
	cfg.Devices = kept
}

// deviceProblem reports why d cannot run next to the devices already accepted.
func deviceProblem(d models.DeviceConfig, profiles map[string]models.VendorProfile,
	names map[string]bool, stems map[string]string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if names[d.Name] {
		return fmt.Errorf("device %q: duplicate name", d.Name)
	}
	if other, ok := stems[saver.ArtifactStem(d.Name)]; ok {
		return fmt.Errorf("device %q: artifact name collides with device %q", d.Name, other)
	}
	if _, err := saver.LookupProfile(d.Type, profiles); err != nil {
		return fmt.Errorf("device %q: %w", d.Name, err)
	}
	return nil
}

// flatten renders an aggregated error on one line.
func flatten(err error) string {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return err.Error()
	}
	parts := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

func (p *Parser) reject(cfg *models.BackupConfig, name, reason string) {
	p.warnings = append(p.warnings, fmt.Sprintf("device %s skipped: %s", name, reason))
	cfg.Rejected = append(cfg.Rejected, models.RejectedDevice{Name: name, Reason: reason})
}

func (p *Parser) durationOr(key string, def time.Duration) time.Duration {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetDuration(key)
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		v, _ := p.lookup(key)
		return v
	})
}

// Validate reports every problem of the loaded configuration at once.
//
//nolint:gocognit,gocyclo // one check per field
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var result *multierror.Error

	switch {
	case len(cfg.Devices) == 0 && len(cfg.Rejected) > 0:
		result = multierror.Append(result, fmt.Errorf("no usable devices: all %d device records were rejected", len(cfg.Rejected)))
	case len(cfg.Devices) == 0:
		result = multierror.Append(result, fmt.Errorf("no devices configured (devices or %s)", EnvDeviceNames))
	}
	names := make(map[string]bool, len(cfg.Devices))
	stems := make(map[string]string, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if err := deviceProblem(d, cfg.Profiles, names, stems); err != nil {
			result = multierror.Append(result, err)
		}
		names[d.Name] = true
		stems[saver.ArtifactStem(d.Name)] = d.Name
	}
	for name := range cfg.Profiles {
		if _, err := saver.LookupProfile(name, cfg.Profiles); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if cfg.Backup.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("backup.concurrency must be at least 1"))
	}
	switch cfg.Backup.UnconfirmedSave {
	case models.UnconfirmedAccept, models.UnconfirmedReject:
	default:
		result = multierror.Append(result, fmt.Errorf("backup.unconfirmed_save must be one of: %s, %s",
			models.UnconfirmedAccept, models.UnconfirmedReject))
	}
	if cfg.Backup.DeviceTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("backup.device_timeout must be positive"))
	}
	if cfg.Backup.BatchTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("backup.batch_timeout must not be negative"))
	}
	if cfg.Session.ConnectTimeout <= 0 || cfg.Session.MarkerTimeout <= 0 || cfg.Session.SaveTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("session timeouts must be positive"))
	}

	switch cfg.Transfer.Strategy {
	case models.StrategySFTP:
		if cfg.Transfer.SFTP.KnownHostsPath == "" && !cfg.Transfer.SFTP.InsecureSkipVerify {
			result = multierror.Append(result, fmt.Errorf(
				"transfer.sftp.known_hosts_path is required unless insecure_skip_verify is set"))
		}
	case models.StrategyFTP:
		if cfg.Transfer.FTP.Server == "" {
			result = multierror.Append(result, fmt.Errorf("transfer.ftp.server is required for the ftp strategy"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("transfer.strategy must be one of: %s, %s",
			models.StrategySFTP, models.StrategyFTP))
	}
	if cfg.Transfer.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("transfer.timeout must be positive"))
	}

	if cfg.Telegram != nil {
		if cfg.Telegram.BotToken == "" {
			result = multierror.Append(result, fmt.Errorf("telegram.bot_token is required when telegram is configured"))
		}
		if cfg.Telegram.ChatID == "" {
			result = multierror.Append(result, fmt.Errorf("telegram.chat_id is required when telegram is configured"))
		}
	}

	if cfg.Archive != nil {
		if cfg.Archive.Repository == "" {
			result = multierror.Append(result, fmt.Errorf("archive.repository is required when archive is configured"))
		}
		if cfg.Archive.Password == "" {
			result = multierror.Append(result, fmt.Errorf("archive.password is required when archive is configured"))
		}
	}

	if cfg.Wake != nil && cfg.Wake.MACAddress == "" {
		result = multierror.Append(result, fmt.Errorf("wake.mac_address is required when wake is configured"))
	}

	return result.ErrorOrNil()
}
