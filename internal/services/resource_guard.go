package services

import (
	"context"
	"sync"
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

// ResourceGuardConfig holds the heap thresholds in bytes and the timing windows.
type ResourceGuardConfig struct {
	SampleInterval   time.Duration
	WindowSize       int
	Hysteresis       uint64
	LowFree          uint64
	LowBlock         uint64
	CriticalFree     uint64
	LowDuration      time.Duration
	CriticalDuration time.Duration
	RecoveryCooldown time.Duration
	RecoveryDefer    time.Duration
	LogInterval      time.Duration
}

// DefaultResourceGuardConfig returns the device thresholds.
func DefaultResourceGuardConfig() ResourceGuardConfig {
	return ResourceGuardConfig{
		SampleInterval:   constants.HeapSampleInterval,
		WindowSize:       constants.HeapTrendSamples,
		Hysteresis:       constants.HeapTrendHysteresis,
		LowFree:          constants.HeapLowFree,
		LowBlock:         constants.HeapLowBlock,
		CriticalFree:     constants.HeapCriticalFree,
		LowDuration:      constants.HeapLowDuration,
		CriticalDuration: constants.HeapCriticalDuration,
		RecoveryCooldown: constants.HeapRecoveryCooldown,
		RecoveryDefer:    constants.HeapRecoveryDefer,
		LogInterval:      constants.HeapLogInterval,
	}
}

// ResourceGuard watches heap headroom, flags sustained declines and sheds the
// realtime channel when memory stays low.
type ResourceGuard struct {
	cfg      ResourceGuardConfig
	probe    HeapProbe
	realtime RealtimeController
	clock    utils.Clock
	logger   zerolog.Logger

	window       *utils.BoundedQueue[models.HeapSample]
	lastSampleAt time.Time
	lowSince     time.Time
	critSince    time.Time
	lastRecovery time.Time
	lastTrendLog time.Time
	lastLowLog   time.Time

	mu             sync.Mutex
	current        models.HeapSample
	minFree        uint64
	declining      bool
	recoveries     int
	lastRecoveryAt time.Time
}

// NewResourceGuard creates a guard. realtime may be nil when no channel exists.
func NewResourceGuard(cfg ResourceGuardConfig, probe HeapProbe, realtime RealtimeController, clock utils.Clock, logger zerolog.Logger) *ResourceGuard {
	if cfg.WindowSize < 2 {
		cfg.WindowSize = constants.HeapTrendSamples
	}
	return &ResourceGuard{
		cfg:      cfg,
		probe:    probe,
		realtime: realtime,
		clock:    clock,
		logger:   logger,
		window:   utils.NewBoundedQueue[models.HeapSample](cfg.WindowSize, utils.EvictOldest),
	}
}

func (g *ResourceGuard) Name() string {
	return "resource_guard"
}

// SetRealtime attaches the realtime controller after construction.
func (g *ResourceGuard) SetRealtime(realtime RealtimeController) {
	g.realtime = realtime
}

// read takes a fresh probe reading and tracks the minimum seen.
func (g *ResourceGuard) read(now time.Time) (models.HeapSample, bool) {
	s, err := g.probe.Sample()
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to read heap headroom")
		return models.HeapSample{}, false
	}
	s.TakenAt = now

	g.mu.Lock()
	g.current = s
	if g.minFree == 0 || s.FreeBytes < g.minFree {
		g.minFree = s.FreeBytes
	}
	g.mu.Unlock()
	return s, true
}

// SampleHeap appends a sample to the trend window at most once per sampling
// interval. It reports whether a sample was recorded.
func (g *ResourceGuard) SampleHeap(now time.Time) bool {
	if !g.lastSampleAt.IsZero() && now.Sub(g.lastSampleAt) < g.cfg.SampleInterval {
		return false
	}
	s, ok := g.read(now)
	if !ok {
		return false
	}
	g.lastSampleAt = now
	g.window.Push(s)
	return true
}

// IsTrendDeclining is true only when the window is full and every sample is
// lower than its predecessor by more than the hysteresis margin.
func (g *ResourceGuard) IsTrendDeclining() bool {
	if !g.window.Full() {
		return false
	}
	samples := g.window.Items()
	for i := 1; i < len(samples); i++ {
		if samples[i].FreeBytes+g.cfg.Hysteresis >= samples[i-1].FreeBytes {
			return false
		}
	}
	return true
}

// HasSafeHeadroom checks both total free bytes and the largest contiguous
// block, the latter being what a TLS handshake actually needs.
func (g *ResourceGuard) HasSafeHeadroom(minFree, minBlock uint64) bool {
	s, ok := g.read(g.clock.Now())
	if !ok {
		return false
	}
	return s.FreeBytes >= minFree && s.LargestBlock >= minBlock
}

// TransferCritical is the abort predicate checked at transfer progress boundaries.
func (g *ResourceGuard) TransferCritical() bool {
	s, ok := g.read(g.clock.Now())
	if !ok {
		return false
	}
	return s.FreeBytes < constants.HeapTransferAbort ||
		(s.FreeBytes < constants.HeapTransferWarning && s.LargestBlock < constants.HeapTransferBlock)
}

// BundleCritical is the stricter predicate used while a bundle's application
// image streams in, since the filesystem phase still needs headroom after it.
func (g *ResourceGuard) BundleCritical() bool {
	s, ok := g.read(g.clock.Now())
	if !ok {
		return false
	}
	return s.FreeBytes < constants.HeapBundleAbort
}

// TriggerLowHeapRecovery sheds the realtime channel once the heap has been
// low for LowDuration, or critical for CriticalDuration, and the cooldown
// since the previous trigger has elapsed. It reports whether it fired.
func (g *ResourceGuard) TriggerLowHeapRecovery(now time.Time) bool {
	s, ok := g.read(now)
	if !ok {
		return false
	}

	low := s.FreeBytes < g.cfg.LowFree || s.LargestBlock < g.cfg.LowBlock
	critical := s.FreeBytes < g.cfg.CriticalFree
	if !low {
		g.lowSince = time.Time{}
		g.critSince = time.Time{}
		return false
	}
	if g.lowSince.IsZero() {
		g.lowSince = now
	}
	if critical {
		if g.critSince.IsZero() {
			g.critSince = now
		}
	} else {
		g.critSince = time.Time{}
	}

	if now.Sub(g.lastLowLog) >= g.cfg.LogInterval {
		g.lastLowLog = now
		g.logger.Warn().
			Uint64("free", s.FreeBytes).
			Uint64("largest_block", s.LargestBlock).
			Bool("critical", critical).
			Msg("Heap below low threshold")
	}

	sustained := now.Sub(g.lowSince) >= g.cfg.LowDuration ||
		(critical && now.Sub(g.critSince) >= g.cfg.CriticalDuration)
	if !sustained {
		return false
	}
	if !g.lastRecovery.IsZero() && now.Sub(g.lastRecovery) < g.cfg.RecoveryCooldown {
		return false
	}

	g.lastRecovery = now
	g.mu.Lock()
	g.recoveries++
	g.lastRecoveryAt = now
	g.mu.Unlock()

	g.logger.Error().
		Uint64("free", s.FreeBytes).
		Uint64("largest_block", s.LargestBlock).
		Dur("defer", g.cfg.RecoveryDefer).
		Msg("Low heap recovery: pausing realtime channel")
	if g.realtime != nil {
		g.realtime.Pause(g.cfg.RecoveryDefer)
	}
	return true
}

// Tick samples the heap, reports a declining trend and runs the recovery check.
func (g *ResourceGuard) Tick(ctx context.Context, now time.Time) {
	if !g.SampleHeap(now) {
		g.TriggerLowHeapRecovery(now)
		return
	}

	declining := g.IsTrendDeclining()
	g.mu.Lock()
	g.declining = declining
	g.mu.Unlock()

	if declining && now.Sub(g.lastTrendLog) >= g.cfg.LogInterval {
		g.lastTrendLog = now
		first, _ := g.window.Peek()
		last, _ := g.window.Newest()
		g.logger.Warn().
			Uint64("from", first.FreeBytes).
			Uint64("to", last.FreeBytes).
			Int("samples", g.window.Len()).
			Msg("Heap trend declining")
	}
	g.TriggerLowHeapRecovery(now)
}

// Stats returns a snapshot for status output.
func (g *ResourceGuard) Stats() models.HeapStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.HeapStats{
		Current:        g.current,
		Minimum:        g.minFree,
		Declining:      g.declining,
		RecoveryCount:  g.recoveries,
		LastRecoveryAt: g.lastRecoveryAt,
	}
}
