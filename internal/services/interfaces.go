package services

import (
	"context"
	"time"

	"github.com/benmeehan/display-agent/internal/models"
)

// RealtimeChannel is the low-latency command connection (MQTT in production).
type RealtimeChannel interface {
	// Connect starts a connection attempt and returns without waiting for it.
	Connect() error
	Disconnect()
	IsConnected() bool
	IsConnecting() bool
}

// RealtimeController pauses the realtime channel on behalf of components that
// need its heap or bandwidth.
type RealtimeController interface {
	// Pause disconnects the channel and defers reconnection for d.
	Pause(d time.Duration)
	// Defer postpones reconnection for d without touching the connection.
	Defer(d time.Duration)
	IsConnecting() bool
}

// WebServerControl starts and stops the local web server.
type WebServerControl interface {
	IsRunning() bool
	Start() error
	Stop() error
}

// Watchdog restarts the device when the run loop stops feeding it.
type Watchdog interface {
	Feed()
	SetTimeout(d time.Duration)
	RestoreTimeout()
}

// Restarter reboots the device. It does not return in production.
type Restarter interface {
	Restart(reason string)
}

// HeapProbe reads the current memory headroom.
type HeapProbe interface {
	Sample() (models.HeapSample, error)
}

// HeadroomChecker gates network and flash work on available memory.
type HeadroomChecker interface {
	HasSafeHeadroom(minFree, minBlock uint64) bool
}

// AckClient delivers command acknowledgments to the cloud API.
type AckClient interface {
	SendAck(ctx context.Context, ack models.CommandAck) error
	// InFlight reports whether any API request is currently outstanding.
	InFlight() bool
	// UsesRealtime reports whether acks travel over the realtime channel,
	// which then must stay connected for a pending action to complete.
	UsesRealtime() bool
}

// FailedVersionStore persists the failed-version marker.
type FailedVersionStore interface {
	FailedVersion() string
	SetFailedVersion(version string) error
	ClearFailedVersion() error
}

// SettingsStore is the user-facing configuration the command table edits.
type SettingsStore interface {
	Get() models.DeviceSettings
	Apply(patch []byte) (models.DeviceSettings, error)
	SetBrightness(value int) error
	AutoUpdate(def bool) bool
	FactoryReset() error
}
