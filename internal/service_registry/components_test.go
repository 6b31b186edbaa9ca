package service_registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/display-agent/internal/mocks"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/benmeehan/display-agent/pkg/file"
	http_utils "github.com/benmeehan/display-agent/pkg/httpUtils"
	"github.com/benmeehan/display-agent/pkg/transfer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDependencies(t *testing.T, configure func(*utils.Config)) Dependencies {
	dir := t.TempDir()
	cfg := &utils.Config{}
	cfg.OTA.Enabled = true
	cfg.OTA.StateFile = filepath.Join(dir, "ota-state.json")
	cfg.Commands.Enabled = true
	cfg.Commands.SettingsFile = filepath.Join(dir, "settings.json")
	cfg.Web.ListenAddr = "127.0.0.1:0"
	if configure != nil {
		configure(cfg)
	}
	utils.ApplyDefaults(cfg)

	deviceInfo := new(mocks.MockDeviceInfo)
	deviceInfo.On("GetDeviceID").Return("dev-1")
	deviceInfo.On("GetHardwareVariant").Return("esp32s3")

	return Dependencies{
		Config:     cfg,
		Version:    "1.4.0",
		FileClient: file.NewFileService(),
		DeviceInfo: deviceInfo,
		API:        http_utils.NewAPIClient(time.Second, nil, ""),
		Opener:     transfer.NewMuxOpener(),
		Flash:      mocks.NewMemoryFlashTarget(64*1024, 0),
		HeapProbe:  new(mocks.MockHeapProbe),
		Restarter:  new(mocks.MockRestarter),
		Clock:      mocks.NewFakeClock(time.Unix(1700000000, 0)),
		Logger:     zerolog.Nop(),
	}
}

// TestServiceRegistry_Build tests component wiring and the tick order.
func TestServiceRegistry_Build(t *testing.T) {
	// Setup
	deps := testDependencies(t, func(cfg *utils.Config) { cfg.Web.Enabled = true })
	sr := newTestRegistry()

	// Execute
	c, err := sr.Build(deps)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"watchdog", "resource_guard", "realtime", "commands", "ota"}, sr.Tickers())
	assert.Equal(t, []string{"watchdog", "commands", "web"}, sr.serviceKeys)
	require.NotNil(t, c.Web)

	report := c.Status.Report()
	assert.Equal(t, "dev-1", report.DeviceID)
	assert.Equal(t, "1.4.0", report.Version)
	assert.Equal(t, "app0", report.RunningPartition)
	assert.Equal(t, "idle", string(report.Update.State))
}

// TestServiceRegistry_Build_Disabled tests that disabled components are not ticked.
func TestServiceRegistry_Build_Disabled(t *testing.T) {
	deps := testDependencies(t, func(cfg *utils.Config) {
		cfg.OTA.Enabled = false
		cfg.Commands.Enabled = false
		cfg.OTA.CurrentVersion = "1.5.0"
	})
	sr := newTestRegistry()

	c, err := sr.Build(deps)

	require.NoError(t, err)
	assert.Equal(t, []string{"watchdog", "resource_guard", "realtime"}, sr.Tickers())
	assert.Nil(t, c.Web)
	assert.Equal(t, "1.5.0", c.Resolver.CurrentVersion())
}
