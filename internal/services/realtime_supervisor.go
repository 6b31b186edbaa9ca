package services

import (
	"context"
	"sync"
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

// RealtimeSupervisor owns reconnection of the realtime channel. Other
// components never reconnect it themselves; they pause or defer it here.
type RealtimeSupervisor struct {
	channel   RealtimeChannel
	headroom  HeadroomChecker
	clock     utils.Clock
	logger    zerolog.Logger
	retryWait time.Duration

	mu          sync.Mutex
	deferUntil  time.Time
	lastAttempt time.Time
	attempts    int
}

// NewRealtimeSupervisor creates a supervisor. channel may be nil when no
// realtime channel is configured; headroom may be nil.
func NewRealtimeSupervisor(channel RealtimeChannel, headroom HeadroomChecker, clock utils.Clock, logger zerolog.Logger) *RealtimeSupervisor {
	return &RealtimeSupervisor{
		channel:   channel,
		headroom:  headroom,
		clock:     clock,
		logger:    logger,
		retryWait: 5 * time.Second,
	}
}

func (s *RealtimeSupervisor) Name() string {
	return "realtime"
}

// SetHeadroom attaches the heap gate after construction.
func (s *RealtimeSupervisor) SetHeadroom(headroom HeadroomChecker) {
	s.headroom = headroom
}

// Pause disconnects the channel and defers reconnection for d.
func (s *RealtimeSupervisor) Pause(d time.Duration) {
	s.Defer(d)
	if s.channel == nil {
		return
	}
	if s.channel.IsConnected() || s.channel.IsConnecting() {
		s.logger.Info().Dur("defer", d).Msg("Pausing realtime channel")
		s.channel.Disconnect()
	}
}

// Defer postpones reconnection until now+d. The deadline is replaced, not
// extended, so a shorter cooldown after an aborted update takes effect.
func (s *RealtimeSupervisor) Defer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferUntil = s.clock.Now().Add(d)
}

func (s *RealtimeSupervisor) IsConnecting() bool {
	return s.channel != nil && s.channel.IsConnecting()
}

// Deferred reports whether reconnection is currently held back.
func (s *RealtimeSupervisor) Deferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Before(s.deferUntil)
}

// Tick reconnects the channel once the deferral expired and the heap can
// afford a TLS handshake. Attempts back off exponentially up to a minute.
func (s *RealtimeSupervisor) Tick(ctx context.Context, now time.Time) {
	if s.channel == nil {
		return
	}
	if s.channel.IsConnected() {
		s.attempts = 0
		return
	}
	if s.channel.IsConnecting() {
		return
	}

	s.mu.Lock()
	deferred := now.Before(s.deferUntil)
	s.mu.Unlock()
	if deferred {
		return
	}

	wait := s.retryWait << s.attempts
	if wait > time.Minute || wait <= 0 {
		wait = time.Minute
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < wait {
		return
	}
	if s.headroom != nil && !s.headroom.HasSafeHeadroom(constants.HeapMinForTLS, constants.HeapBlockMinForTLS) {
		return
	}

	s.lastAttempt = now
	if s.attempts < 4 {
		s.attempts++
	}
	if err := s.channel.Connect(); err != nil {
		s.logger.Warn().Err(err).Msg("Realtime connect failed")
		return
	}
	s.logger.Info().Msg("Realtime channel connecting")
}
