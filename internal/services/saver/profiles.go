package saver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fgeck/oltbackup/internal/models"
)

// DefaultProfile is the vendor profile used when a device does not name one.
const DefaultProfile = "datacom"

var builtinProfiles = map[string]models.VendorProfile{
	// Datacom DmOS OLTs. The save writes the file to the root of the device filesystem.
	"datacom": {
		LoginMarker:        "login:",
		PasswordMarker:     "Password:",
		WelcomeMarker:      "Welcome to the DmOS CLI",
		ConfigCommand:      "config",
		SaveCommand:        "save {filename}",
		ConfirmationMarker: "Transfer complete.",
		ExitCommands:       []string{"exit", "exit"},
	},
}

// LookupProfile resolves a profile by name. Entries in overrides replace built-in ones,
// empty fields of an override inherit from the built-in profile of the same name.
func LookupProfile(name string, overrides map[string]models.VendorProfile) (models.VendorProfile, error) {
	key := strings.ToLower(name)
	base, builtin := builtinProfiles[key]
	override, overridden := overrides[key]

	switch {
	case overridden && builtin:
		return merge(base, override), nil
	case overridden:
		return override, validateProfile(key, override)
	case builtin:
		return base, nil
	}

	return models.VendorProfile{}, fmt.Errorf("unknown vendor profile %q (known: %s)",
		name, strings.Join(ProfileNames(overrides), ", "))
}

// ProfileNames lists built-in and configured profile names.
func ProfileNames(overrides map[string]models.VendorProfile) []string {
	seen := make(map[string]struct{}, len(builtinProfiles)+len(overrides))
	for k := range builtinProfiles {
		seen[k] = struct{}{}
	}
	for k := range overrides {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func merge(base, o models.VendorProfile) models.VendorProfile {
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}
	out := models.VendorProfile{
		LoginMarker:        pick(o.LoginMarker, base.LoginMarker),
		PasswordMarker:     pick(o.PasswordMarker, base.PasswordMarker),
		WelcomeMarker:      pick(o.WelcomeMarker, base.WelcomeMarker),
		ConfigCommand:      pick(o.ConfigCommand, base.ConfigCommand),
		ConfigMarker:       pick(o.ConfigMarker, base.ConfigMarker),
		SaveCommand:        pick(o.SaveCommand, base.SaveCommand),
		ConfirmationMarker: pick(o.ConfirmationMarker, base.ConfirmationMarker),
		ExitCommands:       base.ExitCommands,
	}
	if len(o.ExitCommands) > 0 {
		out.ExitCommands = o.ExitCommands
	}
	return out
}

func validateProfile(name string, p models.VendorProfile) error {
	missing := []string{}
	if p.LoginMarker == "" {
		missing = append(missing, "login_marker")
	}
	if p.PasswordMarker == "" {
		missing = append(missing, "password_marker")
	}
	if p.WelcomeMarker == "" {
		missing = append(missing, "welcome_marker")
	}
	if p.SaveCommand == "" {
		missing = append(missing, "save_command")
	}
	if p.ConfirmationMarker == "" {
		missing = append(missing, "confirmation_marker")
	}
	if len(missing) > 0 {
		return fmt.Errorf("profile %q: missing %s", name, strings.Join(missing, ", "))
	}
	return nil
}
