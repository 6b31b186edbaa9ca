package registry

import (
	"context"
	"time"
)

// Service is the interface for components with a start/stop lifecycle.
type Service interface {
	Start() error
	Stop() error
}

// Ticker is a component driven by the run loop. Tick must return promptly
// unless it is running the one sanctioned long operation, a firmware transfer.
type Ticker interface {
	Name() string
	Tick(ctx context.Context, now time.Time)
}
