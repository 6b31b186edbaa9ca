package metrics_collectors

import (
	"context"
	"errors"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

// GaugeCollector reports a single reading taken by read.
type GaugeCollector struct {
	name   string
	unit   string
	read   func(ctx context.Context) (float64, error)
	logger zerolog.Logger
}

func (g *GaugeCollector) Name() string { return g.name }
func (g *GaugeCollector) Unit() string { return g.unit }

// Collect returns nil and logs when the reading fails.
func (g *GaugeCollector) Collect(ctx context.Context) *float64 {
	v, err := g.read(ctx)
	if err != nil {
		g.logger.Error().Err(err).Str("metric", g.name).Msg("Failed to collect metric")
		return nil
	}
	return &v
}

var errNoCPUSample = errors.New("cpu usage data is empty")

// NewCPUCollector reports overall CPU usage since the previous call.
func NewCPUCollector(logger zerolog.Logger) *GaugeCollector {
	return &GaugeCollector{name: "cpu", unit: "percentage", logger: logger, read: func(ctx context.Context) (float64, error) {
		percent, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, err
		}
		if len(percent) == 0 {
			return 0, errNoCPUSample
		}
		return percent[0], nil
	}}
}

// NewLoadCollector reports the one minute load average.
func NewLoadCollector(logger zerolog.Logger) *GaugeCollector {
	return &GaugeCollector{name: "load1", unit: "load", logger: logger, read: func(ctx context.Context) (float64, error) {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return avg.Load1, nil
	}}
}

// NewMemoryCollector reports used virtual memory.
func NewMemoryCollector(logger zerolog.Logger) *GaugeCollector {
	return &GaugeCollector{name: "memory", unit: "percentage", logger: logger, read: func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}}
}

// NewDiskCollector reports usage of the filesystem holding path, which is
// where slot images and device state live.
func NewDiskCollector(path string, logger zerolog.Logger) *GaugeCollector {
	if path == "" {
		path = "/"
	}
	return &GaugeCollector{name: "disk", unit: "percentage", logger: logger.With().Str("path", path).Logger(), read: func(ctx context.Context) (float64, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return usage.UsedPercent, nil
	}}
}

// NewGoroutineCollector reports the agent's own goroutine count.
func NewGoroutineCollector() *GaugeCollector {
	return &GaugeCollector{name: "goroutines", unit: "count", logger: zerolog.Nop(), read: func(context.Context) (float64, error) {
		return float64(runtime.NumGoroutine()), nil
	}}
}
