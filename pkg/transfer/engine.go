package transfer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/rs/zerolog"
)

// AbortReason says why DownloadStream stopped.
type AbortReason string

const (
	ReasonCompleted    AbortReason = "completed"
	ReasonStalled      AbortReason = "stalled"
	ReasonDisconnected AbortReason = "disconnected"
	ReasonReadFailed   AbortReason = "read_failed"
	ReasonShortWrite   AbortReason = "short_write"
	ReasonCriticalHeap AbortReason = "critical_heap"
)

var ErrHeaderTimeout = errors.New("timed out waiting for header bytes")

// Result is what DownloadStream hands back to the caller.
type Result struct {
	Written  int64
	Expected int64
	Reason   AbortReason
	Err      error
}

// Complete reports whether every expected byte reached the sink.
func (r Result) Complete() bool {
	return r.Reason == ReasonCompleted && r.Written == r.Expected
}

// Retryable reports whether the caller may re-open the stream and try again.
// Resource exhaustion and sink failures are excluded because a retry would
// run straight into the same condition.
func (r Result) Retryable() bool {
	if r.Reason == ReasonCriticalHeap || r.Reason == ReasonShortWrite {
		return false
	}
	return ShouldRetry(r.Written, r.Expected)
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("transfer %s after %d/%d bytes: %v", r.Reason, r.Written, r.Expected, r.Err)
	}
	return fmt.Sprintf("transfer %s after %d/%d bytes", r.Reason, r.Written, r.Expected)
}

// ProgressFunc receives the completed percentage on each progress boundary.
type ProgressFunc func(percent int, written, total int64)

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	BufferSize    int
	StallTimeout  time.Duration
	PollInterval  time.Duration
	YieldInterval time.Duration
	ProgressStep  int
}

// Engine moves bytes from a Source into a sink in bounded chunks.
type Engine struct {
	opts     Options
	clock    utils.Clock
	headroom HeadroomMonitor
	yield    func()
	logger   zerolog.Logger
}

// NewEngine creates an Engine. headroom and yield may be nil.
func NewEngine(opts Options, clock utils.Clock, headroom HeadroomMonitor, yield func(), logger zerolog.Logger) *Engine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 2048
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.YieldInterval <= 0 {
		opts.YieldInterval = 5 * time.Millisecond
	}
	if opts.ProgressStep <= 0 || opts.ProgressStep > 100 {
		opts.ProgressStep = 5
	}
	if yield == nil {
		yield = func() {}
	}
	return &Engine{
		opts:     opts,
		clock:    clock,
		headroom: headroom,
		yield:    yield,
		logger:   logger,
	}
}

// DownloadStream copies up to expected bytes from src into sink.
// progress is called at most once per ProgressStep percent. A custom
// headroom monitor overrides the engine's one for this call.
func (e *Engine) DownloadStream(src Source, sink io.Writer, expected int64, progress ProgressFunc, headroom HeadroomMonitor) Result {
	if headroom == nil {
		headroom = e.headroom
	}
	res := Result{Expected: expected}
	if expected <= 0 {
		res.Reason = ReasonCompleted
		return res
	}

	buf := make([]byte, e.opts.BufferSize)
	lastProgress := 0
	lastData := e.clock.Now()

	for res.Written < expected {
		avail := src.Available()
		if avail <= 0 {
			if !src.Connected() {
				res.Reason = ReasonDisconnected
				e.logger.Warn().Int64("written", res.Written).Int64("expected", expected).Msg("Source disconnected mid-transfer")
				return res
			}
			if e.clock.Now().Sub(lastData) >= e.opts.StallTimeout {
				res.Reason = ReasonStalled
				e.logger.Error().Int64("written", res.Written).Dur("timeout", e.opts.StallTimeout).Msg("Transfer stalled")
				return res
			}
			e.yield()
			e.clock.Sleep(e.opts.PollInterval)
			continue
		}

		chunk := len(buf)
		if int64(chunk) > expected-res.Written {
			chunk = int(expected - res.Written)
		}
		if avail < chunk {
			chunk = avail
		}

		n, err := src.Read(buf[:chunk])
		if n > 0 {
			lastData = e.clock.Now()
			w, werr := sink.Write(buf[:n])
			res.Written += int64(w)
			if werr != nil || w != n {
				res.Reason = ReasonShortWrite
				res.Err = werr
				e.logger.Error().Err(werr).Int("read", n).Int("written", w).Msg("Sink accepted fewer bytes than read")
				return res
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			res.Reason = ReasonReadFailed
			res.Err = err
			e.logger.Error().Err(err).Int64("written", res.Written).Msg("Read from source failed")
			return res
		}

		percent := int(res.Written * 100 / expected)
		if percent/e.opts.ProgressStep > lastProgress/e.opts.ProgressStep {
			lastProgress = percent
			if progress != nil {
				progress(percent, res.Written, expected)
			}
			if headroom != nil && headroom.TransferCritical() {
				res.Reason = ReasonCriticalHeap
				e.logger.Error().Int("progress", percent).Msg("Heap critical, aborting transfer")
				return res
			}
		}

		e.yield()
		e.clock.Sleep(e.opts.YieldInterval)
	}

	res.Reason = ReasonCompleted
	return res
}

// ReadExact fills buf completely or fails after timeout without new data.
func (e *Engine) ReadExact(src Source, buf []byte, timeout time.Duration) error {
	read := 0
	deadline := e.clock.Now().Add(timeout)
	for read < len(buf) {
		if e.clock.Now().After(deadline) {
			return fmt.Errorf("%w: got %d of %d", ErrHeaderTimeout, read, len(buf))
		}
		if src.Available() <= 0 {
			if !src.Connected() {
				return fmt.Errorf("source closed after %d of %d header bytes", read, len(buf))
			}
			e.yield()
			e.clock.Sleep(e.opts.YieldInterval)
			continue
		}
		n, err := src.Read(buf[read:])
		read += n
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}
