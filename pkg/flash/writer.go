package flash

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Writer drives a FlashTarget through begin, write and finalize. Only one
// region may be open at a time.
type Writer struct {
	target   FlashTarget
	versions VersionRecorder
	logger   zerolog.Logger

	mu        sync.Mutex
	active    bool
	kind      ImageKind
	partition Partition
	declared  int64
	written   int64
}

// NewWriter returns a Writer for target. versions may be nil.
func NewWriter(target FlashTarget, versions VersionRecorder, logger zerolog.Logger) *Writer {
	return &Writer{
		target:   target,
		versions: versions,
		logger:   logger,
	}
}

// Target exposes the underlying flash primitive for partition lookups.
func (w *Writer) Target() FlashTarget {
	return w.target
}

// BeginUpdate opens target for contentLength bytes of kind.
func (w *Writer) BeginUpdate(contentLength int64, kind ImageKind, target Partition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return ErrUpdateInProgress
	}
	if contentLength <= 0 {
		return fmt.Errorf("invalid content length %d", contentLength)
	}
	if contentLength > target.Size {
		w.logger.Error().
			Str("partition", target.Label).
			Int64("size", contentLength).
			Int64("capacity", target.Size).
			Msg("Image does not fit target partition")
		return fmt.Errorf("%w: %d > %d (%s)", ErrPartitionTooSmall, contentLength, target.Size, target.Label)
	}
	if err := w.target.Begin(kind, target, contentLength); err != nil {
		return err
	}

	w.active = true
	w.kind = kind
	w.partition = target
	w.declared = contentLength
	w.written = 0
	w.logger.Info().
		Str("kind", kind.String()).
		Str("partition", target.Label).
		Int64("size", contentLength).
		Msg("Flash update started")
	return nil
}

// Write forwards p to the open region. It is the transfer engine's sink.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return 0, ErrNoUpdateActive
	}
	if w.written+int64(len(p)) > w.declared {
		return 0, fmt.Errorf("write past declared size %d", w.declared)
	}
	n, err := w.target.Write(p)
	w.written += int64(n)
	return n, err
}

// FinalizeUpdate validates the image and, for application images, switches
// the boot selector and records versionLabel against the partition.
func (w *Writer) FinalizeUpdate(kind ImageKind, target Partition, versionLabel string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return ErrNoUpdateActive
	}
	if w.kind != kind || w.partition.Label != target.Label {
		return fmt.Errorf("finalize %s/%s does not match open %s/%s", kind, target.Label, w.kind, w.partition.Label)
	}

	// The region is closed whatever End reports; a failed image is never reused.
	w.active = false
	if err := w.target.End(); err != nil {
		w.logger.Error().Err(err).Str("partition", target.Label).Msg("Flash finalize failed")
		return err
	}

	if kind != KindApplication {
		w.logger.Info().Str("partition", target.Label).Msg("Filesystem image written")
		return nil
	}

	if err := w.target.SetBootPartition(target); err != nil {
		w.logger.Error().Err(err).Str("partition", target.Label).Msg("Boot partition switch failed")
		return err
	}
	if w.versions != nil && versionLabel != "" {
		if err := w.versions.SetPartitionVersion(target.Label, versionLabel); err != nil {
			w.logger.Warn().Err(err).Str("partition", target.Label).Msg("Failed to record partition version")
		}
	}
	w.logger.Info().Str("partition", target.Label).Str("version", versionLabel).Msg("Boot partition switched")
	return nil
}

// Abort discards the open region, if any.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return
	}
	w.target.Abort()
	w.active = false
	w.logger.Warn().Str("partition", w.partition.Label).Int64("written", w.written).Msg("Flash update aborted")
}

// Active reports whether a region is open.
func (w *Writer) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
