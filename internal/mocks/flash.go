package mocks

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/benmeehan/display-agent/pkg/flash"
)

// BeginCall records one FlashTarget.Begin invocation.
type BeginCall struct {
	Kind      flash.ImageKind
	Partition string
	Size      int64
}

// MemoryFlashTarget keeps two application slots and an optional filesystem
// slot in memory.
type MemoryFlashTarget struct {
	mu      sync.Mutex
	apps    []flash.Partition
	fs      *flash.Partition
	running flash.Partition
	boot    flash.Partition

	open     *flash.Partition
	buf      bytes.Buffer
	declared int64

	images  map[string][]byte
	begins  []BeginCall
	aborts  int
	EndErr  error
	BootErr error
}

// NewMemoryFlashTarget creates app0/app1 slots of appSize bytes and, when
// fsSize is positive, a spiffs slot. app0 is running.
func NewMemoryFlashTarget(appSize, fsSize int64) *MemoryFlashTarget {
	t := &MemoryFlashTarget{
		apps: []flash.Partition{
			{Label: "app0", Offset: 0x10000, Size: appSize},
			{Label: "app1", Offset: 0x10000 + appSize, Size: appSize},
		},
		images: map[string][]byte{},
	}
	if fsSize > 0 {
		t.fs = &flash.Partition{Label: "spiffs", Offset: 0x10000 + 2*appSize, Size: fsSize}
	}
	t.running = t.apps[0]
	t.boot = t.apps[0]
	return t
}

func (t *MemoryFlashTarget) NextUpdatePartition() (flash.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.apps {
		if p.Label != t.running.Label {
			return p, nil
		}
	}
	return flash.Partition{}, flash.ErrNoPartition
}

func (t *MemoryFlashTarget) FilesystemPartition() (flash.Partition, error) {
	if t.fs == nil {
		return flash.Partition{}, flash.ErrNoPartition
	}
	return *t.fs, nil
}

func (t *MemoryFlashTarget) RunningPartition() (flash.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running, nil
}

func (t *MemoryFlashTarget) BootPartition() (flash.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boot, nil
}

func (t *MemoryFlashTarget) Begin(kind flash.ImageKind, p flash.Partition, size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open != nil {
		return flash.ErrUpdateInProgress
	}
	t.begins = append(t.begins, BeginCall{Kind: kind, Partition: p.Label, Size: size})
	t.open = &p
	t.buf.Reset()
	t.declared = size
	return nil
}

func (t *MemoryFlashTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return 0, flash.ErrNoUpdateActive
	}
	return t.buf.Write(p)
}

func (t *MemoryFlashTarget) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return flash.ErrNoUpdateActive
	}
	label := t.open.Label
	t.open = nil
	if t.EndErr != nil {
		return t.EndErr
	}
	if int64(t.buf.Len()) != t.declared {
		return fmt.Errorf("%w: %d of %d", flash.ErrIncompleteImage, t.buf.Len(), t.declared)
	}
	t.images[label] = append([]byte(nil), t.buf.Bytes()...)
	return nil
}

func (t *MemoryFlashTarget) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return
	}
	t.open = nil
	t.aborts++
}

func (t *MemoryFlashTarget) SetBootPartition(p flash.Partition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.BootErr != nil {
		return t.BootErr
	}
	t.boot = p
	return nil
}

// Image returns the committed image for label.
func (t *MemoryFlashTarget) Image(label string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	img, ok := t.images[label]
	return img, ok
}

// Begins returns every Begin call in order.
func (t *MemoryFlashTarget) Begins() []BeginCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]BeginCall(nil), t.begins...)
}

// Aborts returns how many open regions were discarded.
func (t *MemoryFlashTarget) Aborts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborts
}
