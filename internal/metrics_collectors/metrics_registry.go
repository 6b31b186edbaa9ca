package metrics_collectors

import (
	"context"
	"sync"
	"time"

	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

// MetricsRegistry holds the collectors reported by the get_telemetry command.
type MetricsRegistry struct {
	collectors []MetricCollector
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewMetricsRegistry creates a registry whose collection rounds are bounded by timeout.
func NewMetricsRegistry(timeout time.Duration, logger zerolog.Logger) *MetricsRegistry {
	return &MetricsRegistry{timeout: timeout, logger: logger}
}

// Register adds a new metric collector to the registry.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.collectors = append(r.collectors, collector)
}

// CollectAll runs every collector concurrently and returns the readings that
// finished within the timeout, keyed by collector name.
func (r *MetricsRegistry) CollectAll(ctx context.Context) map[string]float64 {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pool := utils.NewWorkerPool(len(r.collectors))
	defer pool.Shutdown()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]float64, len(r.collectors))
	)
	for _, collector := range r.collectors {
		collector := collector
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			if v := collector.Collect(ctx); v != nil {
				mu.Lock()
				results[collector.Name()] = *v
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			r.logger.Warn().Err(err).Str("collector", collector.Name()).Msg("Collector not scheduled")
		}
	}
	wg.Wait()
	return results
}
