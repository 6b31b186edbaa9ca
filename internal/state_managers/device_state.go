package state_managers

import (
	"fmt"
	"sync"

	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/rs/zerolog"
)

// DeviceStateManager persists the OTA state that must survive a reboot:
// the version label of each partition and the failed-version marker.
type DeviceStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu    sync.Mutex
	state models.DeviceState
}

// NewDeviceStateManager loads the state file, starting empty if it does not exist.
func NewDeviceStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) (*DeviceStateManager, error) {
	sm := &DeviceStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
		state:      models.DeviceState{PartitionVersions: map[string]string{}},
	}

	exists, err := fileClient.IsFileExists(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat state file: %w", err)
	}
	if !exists {
		return sm, nil
	}
	if err := fileClient.ReadJsonFile(filePath, &sm.state); err != nil {
		logger.Error().Err(err).Str("file", filePath).Msg("Failed to read state file, starting empty")
		sm.state = models.DeviceState{}
	}
	if sm.state.PartitionVersions == nil {
		sm.state.PartitionVersions = map[string]string{}
	}
	return sm, nil
}

// save must be called with mu held.
func (sm *DeviceStateManager) save() error {
	if err := sm.fileClient.WriteJsonFile(sm.filePath, sm.state); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to write state file")
		return err
	}
	return nil
}

// PartitionVersion returns the version recorded for label, or "".
func (sm *DeviceStateManager) PartitionVersion(label string) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state.PartitionVersions[label]
}

// SetPartitionVersion records the version written to the partition label.
func (sm *DeviceStateManager) SetPartitionVersion(label, version string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.PartitionVersions[label] = version
	return sm.save()
}

// FailedVersion returns the failed-version marker.
func (sm *DeviceStateManager) FailedVersion() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state.FailedOTAVersion
}

// SetFailedVersion stores the failed-version marker.
func (sm *DeviceStateManager) SetFailedVersion(version string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state.FailedOTAVersion == version {
		return nil
	}
	sm.state.FailedOTAVersion = version
	return sm.save()
}

// ClearFailedVersion removes the failed-version marker.
func (sm *DeviceStateManager) ClearFailedVersion() error {
	return sm.SetFailedVersion("")
}

// Snapshot returns a copy of the persisted state.
func (sm *DeviceStateManager) Snapshot() models.DeviceState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	versions := make(map[string]string, len(sm.state.PartitionVersions))
	for k, v := range sm.state.PartitionVersions {
		versions[k] = v
	}
	return models.DeviceState{PartitionVersions: versions, FailedOTAVersion: sm.state.FailedOTAVersion}
}
