package services

import (
	"context"
	"testing"
	"time"

	"github.com/benmeehan/display-agent/internal/mocks"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// scriptedProbe returns free-byte readings in order, repeating the last one.
type scriptedProbe struct {
	free  []uint64
	block uint64
	i     int
}

func (p *scriptedProbe) Sample() (models.HeapSample, error) {
	v := p.free[p.i]
	if p.i < len(p.free)-1 {
		p.i++
	}
	return models.HeapSample{FreeBytes: v, LargestBlock: p.block}, nil
}

func guardClock() *mocks.FakeClock {
	return mocks.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func fixedProbe(free, block uint64) *mocks.MockHeapProbe {
	probe := new(mocks.MockHeapProbe)
	probe.On("Sample").Return(models.HeapSample{FreeBytes: free, LargestBlock: block}, nil)
	return probe
}

// TestResourceGuard_IsTrendDeclining tests that only a full, strictly falling window counts as declining.
func TestResourceGuard_IsTrendDeclining(t *testing.T) {
	tests := []struct {
		name string
		free []uint64
		want bool
	}{
		{"falling", []uint64{90000, 89000, 88000, 87000, 86000, 85000, 84000, 83000}, true},
		{"window not full", []uint64{90000, 89000, 88000}, false},
		{"one flat step", []uint64{90000, 89000, 88000, 88000, 86000, 85000, 84000, 83000}, false},
		{"within hysteresis", []uint64{90000, 89000, 88000, 87744, 86000, 85000, 84000, 83000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			g := NewResourceGuard(DefaultResourceGuardConfig(), &scriptedProbe{free: tt.free, block: 60000}, nil, guardClock(), zerolog.Nop())
			now := time.Unix(1000, 0)

			// Execute
			for range tt.free {
				assert.True(t, g.SampleHeap(now))
				now = now.Add(5 * time.Second)
			}

			// Assert
			assert.Equal(t, tt.want, g.IsTrendDeclining())
		})
	}
}

// TestResourceGuard_SampleHeap_Interval tests the sampling rate limit.
func TestResourceGuard_SampleHeap_Interval(t *testing.T) {
	g := NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(90000, 60000), nil, guardClock(), zerolog.Nop())
	now := time.Unix(1000, 0)

	assert.True(t, g.SampleHeap(now))
	assert.False(t, g.SampleHeap(now.Add(4*time.Second)))
	assert.True(t, g.SampleHeap(now.Add(5*time.Second)))
}

// TestResourceGuard_HasSafeHeadroom tests both the free and the largest block thresholds.
func TestResourceGuard_HasSafeHeadroom(t *testing.T) {
	assert.True(t, NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(70000, 45000), nil, guardClock(), zerolog.Nop()).HasSafeHeadroom(65000, 40000))
	assert.False(t, NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(60000, 45000), nil, guardClock(), zerolog.Nop()).HasSafeHeadroom(65000, 40000))
	assert.False(t, NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(90000, 30000), nil, guardClock(), zerolog.Nop()).HasSafeHeadroom(65000, 40000))
}

// TestResourceGuard_TransferPredicates tests the abort predicates used during downloads.
func TestResourceGuard_TransferPredicates(t *testing.T) {
	tests := []struct {
		name           string
		free, block    uint64
		transfer, bndl bool
	}{
		{"healthy", 80000, 60000, false, false},
		{"below abort", 29000, 25000, true, true},
		{"warning with fragmented heap", 45000, 15000, true, true},
		{"warning with large block", 45000, 25000, false, true},
		{"bundle margin only", 52000, 40000, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(tt.free, tt.block), nil, guardClock(), zerolog.Nop())

			assert.Equal(t, tt.transfer, g.TransferCritical())
			assert.Equal(t, tt.bndl, g.BundleCritical())
		})
	}
}

// TestResourceGuard_LowHeapRecovery tests the sustained-low trigger and its cooldown.
func TestResourceGuard_LowHeapRecovery(t *testing.T) {
	// Setup
	realtime := new(mocks.MockRealtimeController)
	realtime.On("Pause", 60*time.Second).Return()
	g := NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(45000, 35000), realtime, guardClock(), zerolog.Nop())
	start := time.Unix(1000, 0)

	// Execute
	first := g.TriggerLowHeapRecovery(start)
	sustained := g.TriggerLowHeapRecovery(start.Add(10 * time.Second))
	cooling := g.TriggerLowHeapRecovery(start.Add(20 * time.Second))
	again := g.TriggerLowHeapRecovery(start.Add(40 * time.Second))

	// Assert
	assert.False(t, first)
	assert.True(t, sustained)
	assert.False(t, cooling)
	assert.True(t, again)
	realtime.AssertNumberOfCalls(t, "Pause", 2)
	assert.Equal(t, 2, g.Stats().RecoveryCount)
}

// TestResourceGuard_CriticalRecovery tests the shorter window for critical heap.
func TestResourceGuard_CriticalRecovery(t *testing.T) {
	realtime := new(mocks.MockRealtimeController)
	realtime.On("Pause", mock.Anything).Return()
	g := NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(35000, 30000), realtime, guardClock(), zerolog.Nop())
	start := time.Unix(1000, 0)

	assert.False(t, g.TriggerLowHeapRecovery(start))
	assert.True(t, g.TriggerLowHeapRecovery(start.Add(2*time.Second)))
	realtime.AssertCalled(t, "Pause", 60*time.Second)
}

// TestResourceGuard_RecoveryResetsWhenHealthy tests that a healthy reading restarts the low window.
func TestResourceGuard_RecoveryResetsWhenHealthy(t *testing.T) {
	realtime := new(mocks.MockRealtimeController)
	probe := &scriptedProbe{free: []uint64{45000, 90000, 45000, 45000}, block: 35000}
	g := NewResourceGuard(DefaultResourceGuardConfig(), probe, realtime, guardClock(), zerolog.Nop())
	start := time.Unix(1000, 0)

	assert.False(t, g.TriggerLowHeapRecovery(start))
	assert.False(t, g.TriggerLowHeapRecovery(start.Add(5*time.Second)))
	assert.False(t, g.TriggerLowHeapRecovery(start.Add(11*time.Second)))
	assert.False(t, g.TriggerLowHeapRecovery(start.Add(15*time.Second)))
	realtime.AssertNotCalled(t, "Pause", mock.Anything)
}

// TestResourceGuard_Tick tests that Tick records the trend and minimum.
func TestResourceGuard_Tick(t *testing.T) {
	// Each tick reads the probe twice: once for the window, once for the recovery check.
	var free []uint64
	for v := uint64(90000); v >= 83000; v -= 1000 {
		free = append(free, v, v)
	}
	g := NewResourceGuard(DefaultResourceGuardConfig(), &scriptedProbe{free: free, block: 60000}, nil, guardClock(), zerolog.Nop())
	now := time.Unix(1000, 0)

	for i := 0; i < 8; i++ {
		g.Tick(context.Background(), now)
		now = now.Add(5 * time.Second)
	}

	stats := g.Stats()
	assert.True(t, stats.Declining)
	assert.Equal(t, uint64(83000), stats.Minimum)
}

// TestResourceGuard_ReadingsUseClock tests that on-demand readings are stamped
// with the injected clock.
func TestResourceGuard_ReadingsUseClock(t *testing.T) {
	clock := mocks.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	g := NewResourceGuard(DefaultResourceGuardConfig(), fixedProbe(90000, 60000), nil, clock, zerolog.Nop())

	assert.True(t, g.HasSafeHeadroom(65000, 40000))
	assert.Equal(t, clock.Now(), g.Stats().Current.TakenAt)

	clock.Advance(time.Minute)
	assert.False(t, g.TransferCritical())
	assert.Equal(t, clock.Now(), g.Stats().Current.TakenAt)

	clock.Advance(time.Minute)
	assert.False(t, g.BundleCritical())
	assert.Equal(t, clock.Now(), g.Stats().Current.TakenAt)
}
