package flash

import "errors"

// ImageKind tells which region an update writes.
type ImageKind int

const (
	KindApplication ImageKind = iota
	KindFilesystem
)

func (k ImageKind) String() string {
	if k == KindFilesystem {
		return "filesystem"
	}
	return "application"
}

// Partition describes a flash region.
type Partition struct {
	Label  string `json:"label"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

var (
	ErrPartitionTooSmall = errors.New("image larger than target partition")
	ErrUpdateInProgress  = errors.New("an update is already in progress")
	ErrNoUpdateActive    = errors.New("no update in progress")
	ErrNoPartition       = errors.New("no update partition available")
	ErrIncompleteImage   = errors.New("image incomplete")
)

// FlashTarget is the platform flash-update primitive.
type FlashTarget interface {
	// NextUpdatePartition returns the application slot that is not running.
	NextUpdatePartition() (Partition, error)
	// FilesystemPartition returns the fixed filesystem update target.
	FilesystemPartition() (Partition, error)
	// RunningPartition returns the application slot booted this session.
	RunningPartition() (Partition, error)
	// BootPartition returns the slot the next restart will execute.
	BootPartition() (Partition, error)
	Begin(kind ImageKind, p Partition, size int64) error
	Write(p []byte) (int, error)
	// End validates and commits the region opened by Begin.
	End() error
	Abort()
	SetBootPartition(p Partition) error
}

// VersionRecorder persists the version label written to a partition.
type VersionRecorder interface {
	SetPartitionVersion(label, version string) error
}
