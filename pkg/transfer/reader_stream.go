package transfer

import (
	"io"
	"sync"
)

const defaultStreamBuffer = 16 * 1024

// ReaderStream adapts a blocking io.ReadCloser into a pollable Stream. A pump
// goroutine fills a bounded buffer; when the buffer is full the pump waits,
// which applies backpressure to the network connection.
type ReaderStream struct {
	body   io.ReadCloser
	length int64
	max    int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	err    error
	done   bool
	closed bool
}

// NewReaderStream starts pumping body. length is -1 when unknown.
func NewReaderStream(body io.ReadCloser, length int64) *ReaderStream {
	s := &ReaderStream{body: body, length: length, max: defaultStreamBuffer}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *ReaderStream) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.body.Read(chunk)

		s.mu.Lock()
		for n > 0 && len(s.buf) >= s.max && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *ReaderStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *ReaderStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	s.cond.Signal()
	if n == 0 && s.done {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	return n, nil
}

// Connected is false once the body ended, failed or the stream was closed.
func (s *ReaderStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done && !s.closed
}

func (s *ReaderStream) ContentLength() int64 {
	return s.length
}

// Err returns the error that ended the body, if any.
func (s *ReaderStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ReaderStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.body.Close()
}
