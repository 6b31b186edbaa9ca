package flash

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/rs/zerolog"
)

// Slot binds a partition to the block device or image file that holds it.
type Slot struct {
	Partition
	Path string
}

type bootRecord struct {
	Label string `json:"label"`
}

// FileTarget implements FlashTarget on top of block devices or image files.
// The boot selector is a small JSON document replaced atomically.
type FileTarget struct {
	appSlots   []Slot
	fsSlot     *Slot
	bootFile   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu       sync.Mutex
	running  Slot
	out      *os.File
	openSlot Slot
	declared int64
	written  int64
	erased   bool
}

// NewFileTarget loads the boot selector to learn which slot is running.
// When no selector exists yet the first application slot is assumed.
func NewFileTarget(appSlots []Slot, fsSlot *Slot, bootFile string, fileClient file.FileOperations, logger zerolog.Logger) (*FileTarget, error) {
	if len(appSlots) == 0 {
		return nil, fmt.Errorf("at least one application slot is required")
	}
	t := &FileTarget{
		appSlots:   appSlots,
		fsSlot:     fsSlot,
		bootFile:   bootFile,
		fileClient: fileClient,
		logger:     logger,
		running:    appSlots[0],
	}

	boot, err := t.readBootRecord()
	if err != nil {
		return nil, err
	}
	if boot.Label != "" {
		slot, ok := t.findApp(boot.Label)
		if !ok {
			return nil, fmt.Errorf("boot selector names unknown slot %q", boot.Label)
		}
		t.running = slot
	}
	logger.Info().Str("running", t.running.Label).Str("path", t.running.Path).Msg("Flash slots loaded")
	return t, nil
}

func (t *FileTarget) readBootRecord() (bootRecord, error) {
	var rec bootRecord
	exists, err := t.fileClient.IsFileExists(t.bootFile)
	if err != nil {
		return rec, fmt.Errorf("failed to stat boot selector: %w", err)
	}
	if !exists {
		return rec, nil
	}
	if err := t.fileClient.ReadJsonFile(t.bootFile, &rec); err != nil {
		return rec, fmt.Errorf("failed to read boot selector: %w", err)
	}
	return rec, nil
}

func (t *FileTarget) findApp(label string) (Slot, bool) {
	for _, s := range t.appSlots {
		if s.Label == label {
			return s, true
		}
	}
	return Slot{}, false
}

func (t *FileTarget) slotFor(kind ImageKind, p Partition) (Slot, error) {
	if kind == KindFilesystem {
		if t.fsSlot == nil || t.fsSlot.Label != p.Label {
			return Slot{}, fmt.Errorf("unknown filesystem partition %q", p.Label)
		}
		return *t.fsSlot, nil
	}
	slot, ok := t.findApp(p.Label)
	if !ok {
		return Slot{}, fmt.Errorf("unknown application partition %q", p.Label)
	}
	return slot, nil
}

func (t *FileTarget) NextUpdatePartition() (Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.appSlots {
		if s.Label != t.running.Label {
			return s.Partition, nil
		}
	}
	return Partition{}, ErrNoPartition
}

func (t *FileTarget) FilesystemPartition() (Partition, error) {
	if t.fsSlot == nil {
		return Partition{}, fmt.Errorf("%w: no filesystem slot configured", ErrNoPartition)
	}
	return t.fsSlot.Partition, nil
}

func (t *FileTarget) RunningPartition() (Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running.Partition, nil
}

func (t *FileTarget) BootPartition() (Partition, error) {
	rec, err := t.readBootRecord()
	if err != nil {
		return Partition{}, err
	}
	if rec.Label == "" {
		return t.RunningPartition()
	}
	slot, ok := t.findApp(rec.Label)
	if !ok {
		return Partition{}, fmt.Errorf("boot selector names unknown slot %q", rec.Label)
	}
	return slot.Partition, nil
}

func (t *FileTarget) Begin(kind ImageKind, p Partition, size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out != nil {
		return ErrUpdateInProgress
	}
	slot, err := t.slotFor(kind, p)
	if err != nil {
		return err
	}
	if kind == KindApplication && slot.Label == t.running.Label {
		return fmt.Errorf("refusing to overwrite running partition %q", slot.Label)
	}

	f, err := os.OpenFile(slot.Path, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", slot.Path, err)
	}
	// A whole-file slot is erased up front; any other slot gets the rest of
	// its partition zeroed in End.
	erased := false
	if info, err := f.Stat(); err == nil && info.Mode().IsRegular() && slot.Offset == 0 {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return fmt.Errorf("failed to erase %s: %w", slot.Path, err)
		}
		erased = true
	}
	if _, err := f.Seek(slot.Offset, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("failed to seek %s: %w", slot.Path, err)
	}

	t.out = f
	t.openSlot = slot
	t.declared = size
	t.written = 0
	t.erased = erased
	return nil
}

func (t *FileTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out == nil {
		return 0, ErrNoUpdateActive
	}
	if t.written+int64(len(p)) > t.openSlot.Size {
		return 0, fmt.Errorf("%w: write beyond %s", ErrPartitionTooSmall, t.openSlot.Label)
	}
	n, err := t.out.Write(p)
	t.written += int64(n)
	return n, err
}

func (t *FileTarget) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out == nil {
		return ErrNoUpdateActive
	}
	f := t.out
	t.out = nil

	if t.written != t.declared {
		f.Close()
		return fmt.Errorf("%w: wrote %d of %d bytes to %s", ErrIncompleteImage, t.written, t.declared, t.openSlot.Label)
	}
	if !t.erased {
		if err := zeroFill(f, t.openSlot.Size-t.written); err != nil {
			f.Close()
			return fmt.Errorf("failed to erase tail of %s: %w", t.openSlot.Label, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", t.openSlot.Path, err)
	}
	return f.Close()
}

func (t *FileTarget) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.out == nil {
		return
	}
	if err := t.out.Close(); err != nil {
		t.logger.Warn().Err(err).Str("partition", t.openSlot.Label).Msg("Failed to close aborted slot")
	}
	t.out = nil
}

func (t *FileTarget) SetBootPartition(p Partition) error {
	if _, ok := t.findApp(p.Label); !ok {
		return fmt.Errorf("unknown application partition %q", p.Label)
	}
	return t.fileClient.WriteJsonFile(t.bootFile, bootRecord{Label: p.Label})
}

// zeroFill writes n zero bytes at the current offset.
func zeroFill(w io.Writer, n int64) error {
	buf := make([]byte, 4096)
	for n > 0 {
		chunk := buf
		if n < int64(len(chunk)) {
			chunk = chunk[:n]
		}
		written, err := w.Write(chunk)
		if err != nil {
			return err
		}
		n -= int64(written)
	}
	return nil
}
