package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SoftwareWatchdog restarts the device when it is not fed within its timeout.
// The run loop feeds it every tick and the transfer engine on every chunk.
type SoftwareWatchdog struct {
	base      time.Duration
	restarter Restarter
	logger    zerolog.Logger

	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
}

func NewSoftwareWatchdog(timeout time.Duration, restarter Restarter, logger zerolog.Logger) *SoftwareWatchdog {
	return &SoftwareWatchdog{
		base:      timeout,
		timeout:   timeout,
		restarter: restarter,
		logger:    logger,
	}
}

func (w *SoftwareWatchdog) Name() string {
	return "watchdog"
}

// Start arms the watchdog.
func (w *SoftwareWatchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.expire)
	}
	return nil
}

// Stop disarms the watchdog.
func (w *SoftwareWatchdog) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return nil
}

// Feed restarts the countdown.
func (w *SoftwareWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

// SetTimeout changes the countdown and feeds the watchdog.
func (w *SoftwareWatchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
	w.logger.Info().Dur("timeout", d).Msg("Watchdog timeout changed")
	w.Feed()
}

// RestoreTimeout goes back to the timeout given at construction.
func (w *SoftwareWatchdog) RestoreTimeout() {
	w.SetTimeout(w.base)
}

// Timeout returns the current countdown.
func (w *SoftwareWatchdog) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

func (w *SoftwareWatchdog) Tick(ctx context.Context, now time.Time) {
	w.Feed()
}

func (w *SoftwareWatchdog) expire() {
	w.logger.Error().Dur("timeout", w.Timeout()).Msg("Watchdog expired, run loop is stuck")
	w.restarter.Restart("watchdog expired")
}
