package service_registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/display-agent/internal/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop() error {
	*s.log = append(*s.log, "stop:"+s.name)
	return s.stopErr
}

type recordingTicker struct {
	name   string
	log    *[]string
	cancel context.CancelFunc
}

func (t *recordingTicker) Name() string { return t.name }

func (t *recordingTicker) Tick(ctx context.Context, now time.Time) {
	*t.log = append(*t.log, "tick:"+t.name)
	if t.cancel != nil {
		t.cancel()
	}
}

func newTestRegistry() *ServiceRegistry {
	return NewServiceRegistry(mocks.NewFakeClock(time.Unix(0, 0)), zerolog.Nop())
}

// TestServiceRegistry_StartServices_Rollback tests that a failed start stops
// the already started services in reverse order.
func TestServiceRegistry_StartServices_Rollback(t *testing.T) {
	// Setup
	var log []string
	sr := newTestRegistry()
	sr.RegisterService("a", &recordingService{name: "a", log: &log})
	sr.RegisterService("b", &recordingService{name: "b", log: &log})
	sr.RegisterService("c", &recordingService{name: "c", log: &log, startErr: errors.New("port in use")})
	sr.RegisterService("d", &recordingService{name: "d", log: &log})

	// Execute
	err := sr.StartServices()

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start c")
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"}, log)
}

// TestServiceRegistry_StopServices tests reverse-order shutdown with joined errors.
func TestServiceRegistry_StopServices(t *testing.T) {
	// Setup
	var log []string
	sr := newTestRegistry()
	sr.RegisterService("a", &recordingService{name: "a", log: &log, stopErr: errors.New("busy")})
	sr.RegisterService("b", &recordingService{name: "b", log: &log})
	sr.RegisterService("a", &recordingService{name: "duplicate", log: &log})

	// Execute
	require.NoError(t, sr.StartServices())
	err := sr.StopServices()

	// Assert
	assert.EqualError(t, err, "failed to stop a: busy")
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)
}

// TestServiceRegistry_TickAll tests that tickers run in registration order.
func TestServiceRegistry_TickAll(t *testing.T) {
	var log []string
	sr := newTestRegistry()
	for _, name := range []string{"watchdog", "resource_guard", "realtime", "commands", "ota"} {
		sr.RegisterTicker(&recordingTicker{name: name, log: &log})
	}
	sr.RegisterTicker(&recordingTicker{name: "ota", log: &log})

	sr.TickAll(context.Background())

	assert.Equal(t, []string{"watchdog", "resource_guard", "realtime", "commands", "ota"}, sr.Tickers())
	assert.Equal(t, []string{"tick:watchdog", "tick:resource_guard", "tick:realtime", "tick:commands", "tick:ota"}, log)
}

// TestServiceRegistry_TickAll_Cancelled tests that a cancelled context ends the iteration.
func TestServiceRegistry_TickAll_Cancelled(t *testing.T) {
	var log []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sr := newTestRegistry()
	sr.RegisterTicker(&recordingTicker{name: "first", log: &log, cancel: cancel})
	sr.RegisterTicker(&recordingTicker{name: "second", log: &log})

	sr.TickAll(ctx)

	assert.Equal(t, []string{"tick:first"}, log)
}

// TestServiceRegistry_RunLoop tests that the loop returns once the context ends.
func TestServiceRegistry_RunLoop(t *testing.T) {
	var log []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sr := newTestRegistry()
	sr.RegisterTicker(&recordingTicker{name: "only", log: &log, cancel: cancel})

	err := sr.RunLoop(ctx, time.Millisecond)

	assert.NoError(t, err)
	assert.Equal(t, []string{"tick:only"}, log)
}
