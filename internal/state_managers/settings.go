package state_managers

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/rs/zerolog"
)

// SettingsManager owns the user-facing device configuration.
type SettingsManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu       sync.Mutex
	settings models.DeviceSettings
}

func defaultSettings() models.DeviceSettings {
	return models.DeviceSettings{Brightness: constants.DefaultBrightness}
}

// NewSettingsManager loads the settings file, falling back to defaults.
func NewSettingsManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) (*SettingsManager, error) {
	sm := &SettingsManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
		settings:   defaultSettings(),
	}

	exists, err := fileClient.IsFileExists(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if exists {
		if err := fileClient.ReadJsonFile(filePath, &sm.settings); err != nil {
			logger.Error().Err(err).Str("file", filePath).Msg("Failed to read settings, using defaults")
			sm.settings = defaultSettings()
		}
	}
	return sm, nil
}

// Get returns a copy of the current settings.
func (sm *SettingsManager) Get() models.DeviceSettings {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.settings
}

// AutoUpdate resolves the auto-update flag, using def when the user never set it.
func (sm *SettingsManager) AutoUpdate(def bool) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.settings.AutoUpdate == nil {
		return def
	}
	return *sm.settings.AutoUpdate
}

// Apply merges a partial JSON document into the settings and persists them.
// Fields absent from patch keep their value.
func (sm *SettingsManager) Apply(patch []byte) (models.DeviceSettings, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	updated := cloneSettings(sm.settings)
	if err := json.Unmarshal(patch, &updated); err != nil {
		return sm.settings, fmt.Errorf("invalid settings payload: %w", err)
	}
	if updated.Brightness < 0 || updated.Brightness > 255 {
		return sm.settings, fmt.Errorf("brightness %d out of range 0-255", updated.Brightness)
	}
	if err := sm.fileClient.WriteJsonFile(sm.filePath, updated); err != nil {
		return sm.settings, err
	}
	sm.settings = updated
	return updated, nil
}

// SetBrightness updates only the brightness.
func (sm *SettingsManager) SetBrightness(value int) error {
	_, err := sm.Apply([]byte(fmt.Sprintf(`{"brightness":%d}`, value)))
	return err
}

// FactoryReset wipes the persisted settings and restores defaults.
func (sm *SettingsManager) FactoryReset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.fileClient.RemoveFile(sm.filePath); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to remove settings file")
		return err
	}
	sm.settings = defaultSettings()
	sm.logger.Warn().Msg("Device settings wiped")
	return nil
}

// cloneSettings copies pointer fields so decoding a patch never writes
// through to the stored value.
func cloneSettings(s models.DeviceSettings) models.DeviceSettings {
	out := s
	if s.AutoUpdate != nil {
		v := *s.AutoUpdate
		out.AutoUpdate = &v
	}
	if s.TLSVerify != nil {
		v := *s.TLSVerify
		out.TLSVerify = &v
	}
	return out
}
