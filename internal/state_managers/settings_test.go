package state_managers

import (
	"path/filepath"
	"testing"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettings(t *testing.T) (*SettingsManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path, file.NewFileService(), zerolog.Nop())
	require.NoError(t, err)
	return sm, path
}

// TestSettingsManager_Defaults tests the settings of a fresh device.
func TestSettingsManager_Defaults(t *testing.T) {
	sm, _ := newSettings(t)

	assert.Equal(t, constants.DefaultBrightness, sm.Get().Brightness)
	assert.True(t, sm.AutoUpdate(true))
	assert.False(t, sm.AutoUpdate(false))
}

// TestSettingsManager_Apply tests merging a partial document and persisting it.
func TestSettingsManager_Apply(t *testing.T) {
	// Setup
	sm, path := newSettings(t)
	_, err := sm.Apply([]byte(`{"display_name":"Lobby","time_zone":"UTC"}`))
	require.NoError(t, err)

	// Execute
	updated, err := sm.Apply([]byte(`{"brightness":40,"auto_update":false}`))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Lobby", updated.DisplayName)
	assert.Equal(t, 40, updated.Brightness)
	assert.False(t, sm.AutoUpdate(true))

	reloaded, err := NewSettingsManager(path, file.NewFileService(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded.Get())
}

// TestSettingsManager_Apply_Invalid tests that rejected patches leave the settings untouched.
func TestSettingsManager_Apply_Invalid(t *testing.T) {
	sm, _ := newSettings(t)
	before := sm.Get()

	_, err := sm.Apply([]byte(`{"brightness":300}`))
	assert.ErrorContains(t, err, "out of range")
	_, err = sm.Apply([]byte(`not json`))
	assert.Error(t, err)

	assert.Equal(t, before, sm.Get())
}

// TestSettingsManager_FactoryReset tests that a reset restores defaults and removes the file.
func TestSettingsManager_FactoryReset(t *testing.T) {
	// Setup
	sm, path := newSettings(t)
	require.NoError(t, sm.SetBrightness(10))

	// Execute
	err := sm.FactoryReset()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultBrightness, sm.Get().Brightness)
	exists, _ := file.NewFileService().IsFileExists(path)
	assert.False(t, exists)
}
