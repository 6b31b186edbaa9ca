package transfer

import (
	"context"
	"io"
)

// Source is a network byte stream that can be polled without blocking.
type Source interface {
	// Available returns how many bytes can be read right now.
	Available() int
	// Read copies at most len(p) already-available bytes.
	Read(p []byte) (int, error)
	// Connected reports whether more bytes may still arrive.
	Connected() bool
}

// Stream is an opened download.
type Stream interface {
	Source
	io.Closer
	// ContentLength is the transport-reported size, or -1 when unknown.
	ContentLength() int64
}

// Opener establishes a new Stream for a URL. Each retry calls Open again.
type Opener interface {
	Open(ctx context.Context, url string) (Stream, error)
}

// HeadroomMonitor is consulted at progress boundaries.
type HeadroomMonitor interface {
	TransferCritical() bool
}

// HeadroomFunc adapts a function to HeadroomMonitor.
type HeadroomFunc func() bool

func (f HeadroomFunc) TransferCritical() bool {
	return f()
}
