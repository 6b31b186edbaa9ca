package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/benmeehan/display-agent/pkg/transfer"
)

// FakeStream serves a fixed payload. It can be told to stop producing data
// after a number of bytes, either staying connected (a stall) or dropping.
type FakeStream struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	limit  int
	drop   bool
	chunk  int
	length int64
	closed bool
}

// NewFakeStream serves data and reports its length as the content length.
func NewFakeStream(data []byte) *FakeStream {
	return &FakeStream{data: data, limit: len(data), length: int64(len(data))}
}

// StallAfter stops producing after n bytes while staying connected.
func (s *FakeStream) StallAfter(n int) *FakeStream {
	s.limit = min(n, len(s.data))
	s.drop = false
	return s
}

// DropAfter disconnects after n bytes.
func (s *FakeStream) DropAfter(n int) *FakeStream {
	s.limit = min(n, len(s.data))
	s.drop = true
	return s
}

// WithChunk caps how many bytes are available per poll.
func (s *FakeStream) WithChunk(n int) *FakeStream {
	s.chunk = n
	return s
}

// WithContentLength overrides the reported length. -1 means unknown.
func (s *FakeStream) WithContentLength(n int64) *FakeStream {
	s.length = n
	return s
}

func (s *FakeStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.limit - s.pos
	if n < 0 {
		n = 0
	}
	if s.chunk > 0 && n > s.chunk {
		n = s.chunk
	}
	return n
}

func (s *FakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= s.limit {
		if s.pos >= len(s.data) {
			return 0, io.EOF
		}
		return 0, nil
	}
	end := s.limit
	if s.chunk > 0 && s.pos+s.chunk < end {
		end = s.pos + s.chunk
	}
	n := copy(p, s.data[s.pos:end])
	s.pos += n
	return n, nil
}

func (s *FakeStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.pos < s.limit {
		return true
	}
	if s.drop || s.pos >= len(s.data) {
		return false
	}
	return true
}

func (s *FakeStream) ContentLength() int64 {
	return s.length
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Served returns how many bytes were read.
func (s *FakeStream) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// FakeOpener hands out streams built by Factory and records every open.
type FakeOpener struct {
	mu      sync.Mutex
	opens   []string
	Factory func(url string, attempt int) (transfer.Stream, error)
}

func (o *FakeOpener) Open(ctx context.Context, url string) (transfer.Stream, error) {
	o.mu.Lock()
	attempt := 0
	for _, u := range o.opens {
		if u == url {
			attempt++
		}
	}
	o.opens = append(o.opens, url)
	o.mu.Unlock()

	if o.Factory == nil {
		return nil, fmt.Errorf("no stream for %s", url)
	}
	return o.Factory(url, attempt)
}

// Opens returns the URLs opened so far, in order.
func (o *FakeOpener) Opens() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opens...)
}

// OpenCount returns how many times url was opened.
func (o *FakeOpener) OpenCount(url string) int {
	n := 0
	for _, u := range o.Opens() {
		if u == url {
			n++
		}
	}
	return n
}
