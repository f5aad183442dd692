package models

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DefaultTelnetPort is used when a device does not set a port.
const DefaultTelnetPort = 23

// Secret holds a credential that must never end up in logs.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// Reveal returns the plain value.
func (s Secret) Reveal() string {
	return string(s)
}

// DeviceConfig holds the connection parameters for one OLT.
type DeviceConfig struct {
	Name     string // unique within a batch
	Host     string
	Port     int
	Username string
	Password Secret
	Type     string // vendor profile key
}

// Validate reports every missing field at once.
func (d DeviceConfig) Validate() error {
	var result *multierror.Error

	if d.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	}
	if d.Host == "" {
		result = multierror.Append(result, fmt.Errorf("device %q: host is required", d.Name))
	}
	if d.Port <= 0 || d.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("device %q: port %d out of range", d.Name, d.Port))
	}
	if d.Username == "" {
		result = multierror.Append(result, fmt.Errorf("device %q: username is required", d.Name))
	}
	if d.Password == "" {
		result = multierror.Append(result, fmt.Errorf("device %q: password is required", d.Name))
	}
	if d.Type == "" {
		result = multierror.Append(result, fmt.Errorf("device %q: type is required", d.Name))
	}

	return result.ErrorOrNil()
}

// VendorProfile describes the CLI dialogue of one device family.
type VendorProfile struct {
	LoginMarker        string
	PasswordMarker     string
	WelcomeMarker      string
	ConfigCommand      string
	ConfigMarker       string // optional, awaited after ConfigCommand when set
	SaveCommand        string // may reference {filename} and {server}
	ConfirmationMarker string
	ExitCommands       []string
}
