package saver

import (
	"testing"

	"github.com/fgeck/oltbackup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupProfile_Builtin(t *testing.T) {
	p, err := LookupProfile("Datacom", nil)

	require.NoError(t, err)
	assert.Equal(t, "login:", p.LoginMarker)
	assert.Equal(t, "Welcome to the DmOS CLI", p.WelcomeMarker)
	assert.Equal(t, "save {filename}", p.SaveCommand)
	assert.Equal(t, "Transfer complete.", p.ConfirmationMarker)
}

func TestLookupProfile_OverrideMergesWithBuiltin(t *testing.T) {
	overrides := map[string]models.VendorProfile{
		"datacom": {
			WelcomeMarker:      "Welcome to DmOS",
			ConfirmationMarker: "Saved.",
		},
	}

	p, err := LookupProfile("datacom", overrides)

	require.NoError(t, err)
	assert.Equal(t, "Welcome to DmOS", p.WelcomeMarker)
	assert.Equal(t, "Saved.", p.ConfirmationMarker)
	assert.Equal(t, "login:", p.LoginMarker)
	assert.Equal(t, []string{"exit", "exit"}, p.ExitCommands)
}

func TestLookupProfile_CustomProfile(t *testing.T) {
	overrides := map[string]models.VendorProfile{
		"acme": {
			LoginMarker:        "Username:",
			PasswordMarker:     "Password:",
			WelcomeMarker:      "ACME>",
			SaveCommand:        "write file {filename}",
			ConfirmationMarker: "[OK]",
		},
	}

	p, err := LookupProfile("acme", overrides)

	require.NoError(t, err)
	assert.Equal(t, "Username:", p.LoginMarker)
	assert.Empty(t, p.ConfigCommand)
}

func TestLookupProfile_IncompleteCustomProfile(t *testing.T) {
	overrides := map[string]models.VendorProfile{
		"acme": {LoginMarker: "Username:"},
	}

	_, err := LookupProfile("acme", overrides)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "welcome_marker")
	assert.Contains(t, err.Error(), "confirmation_marker")
}

func TestLookupProfile_Unknown(t *testing.T) {
	_, err := LookupProfile("huawei", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "datacom")
}
