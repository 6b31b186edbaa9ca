package service_registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/display-agent/internal/registry"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

// ServiceRegistry owns the lifecycle of the agent components and drives the
// single cooperative run loop that ticks them.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	tickers     []registry.Ticker           // Ticked in registration order
	clock       utils.Clock
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes an empty registry.
func NewServiceRegistry(clock utils.Clock, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		clock:    clock,
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// RegisterTicker adds a component to the run loop. Components tick in the
// order they were registered.
func (sr *ServiceRegistry) RegisterTicker(t registry.Ticker) {
	for _, existing := range sr.tickers {
		if existing.Name() == t.Name() {
			sr.Logger.Warn().Msgf("Ticker %s is already registered", t.Name())
			return
		}
	}
	sr.tickers = append(sr.tickers, t)
	sr.Logger.Debug().Str("ticker", t.Name()).Msg("Registered ticker")
}

// Tickers returns the names of the registered tickers in tick order.
func (sr *ServiceRegistry) Tickers() []string {
	names := make([]string, 0, len(sr.tickers))
	for _, t := range sr.tickers {
		names = append(names, t.Name())
	}
	return names
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// TickAll runs one iteration of the loop.
func (sr *ServiceRegistry) TickAll(ctx context.Context) {
	now := sr.clock.Now()
	for _, t := range sr.tickers {
		if ctx.Err() != nil {
			return
		}
		t.Tick(ctx, now)
	}
}

// RunLoop ticks every component each interval until ctx is cancelled.
func (sr *ServiceRegistry) RunLoop(ctx context.Context, interval time.Duration) error {
	sr.Logger.Info().Dur("interval", interval).Strs("tickers", sr.Tickers()).Msg("Run loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sr.Logger.Info().Msg("Run loop stopped")
			return nil
		case <-ticker.C:
			sr.TickAll(ctx)
		}
	}
}
