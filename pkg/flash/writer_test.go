package flash_test

import (
	"errors"
	"testing"

	"github.com/benmeehan/display-agent/internal/mocks"
	"github.com/benmeehan/display-agent/pkg/flash"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versionLog map[string]string

func (v versionLog) SetPartitionVersion(label, version string) error {
	v[label] = version
	return nil
}

// TestWriter_ApplicationUpdate tests a full write that switches the boot slot and records the version.
func TestWriter_ApplicationUpdate(t *testing.T) {
	// Setup
	target := mocks.NewMemoryFlashTarget(4096, 0)
	versions := versionLog{}
	w := flash.NewWriter(target, versions, zerolog.Nop())
	next, err := target.NextUpdatePartition()
	require.NoError(t, err)

	// Execute
	require.NoError(t, w.BeginUpdate(6, flash.KindApplication, next))
	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	err = w.FinalizeUpdate(flash.KindApplication, next, "2.0.0")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.False(t, w.Active())
	img, ok := target.Image("app1")
	assert.True(t, ok)
	assert.Equal(t, []byte("abcdef"), img)
	boot, _ := target.BootPartition()
	assert.Equal(t, "app1", boot.Label)
	assert.Equal(t, "2.0.0", versions["app1"])
}

// TestWriter_BeginUpdate_TooLarge tests that an oversized image never reaches the target.
func TestWriter_BeginUpdate_TooLarge(t *testing.T) {
	target := mocks.NewMemoryFlashTarget(1024, 0)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, _ := target.NextUpdatePartition()

	err := w.BeginUpdate(2048, flash.KindApplication, next)

	assert.ErrorIs(t, err, flash.ErrPartitionTooSmall)
	assert.Empty(t, target.Begins())
}

// TestWriter_SingleRegion tests that only one region may be open.
func TestWriter_SingleRegion(t *testing.T) {
	// Setup
	target := mocks.NewMemoryFlashTarget(1024, 512)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, _ := target.NextUpdatePartition()
	fs, _ := target.FilesystemPartition()
	require.NoError(t, w.BeginUpdate(10, flash.KindApplication, next))

	// Execute
	err := w.BeginUpdate(10, flash.KindFilesystem, fs)

	// Assert
	assert.ErrorIs(t, err, flash.ErrUpdateInProgress)
	w.Abort()
	assert.False(t, w.Active())
	assert.Equal(t, 1, target.Aborts())
}

// TestWriter_WritePastDeclared tests that the declared size bounds the region.
func TestWriter_WritePastDeclared(t *testing.T) {
	target := mocks.NewMemoryFlashTarget(1024, 0)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, _ := target.NextUpdatePartition()
	require.NoError(t, w.BeginUpdate(4, flash.KindApplication, next))

	_, err := w.Write([]byte("12345"))

	assert.Error(t, err)
}

// TestWriter_FinalizeIncomplete tests that an incomplete image leaves the boot slot alone.
func TestWriter_FinalizeIncomplete(t *testing.T) {
	// Setup
	target := mocks.NewMemoryFlashTarget(1024, 0)
	versions := versionLog{}
	w := flash.NewWriter(target, versions, zerolog.Nop())
	next, _ := target.NextUpdatePartition()
	require.NoError(t, w.BeginUpdate(8, flash.KindApplication, next))
	_, _ = w.Write([]byte("1234"))

	// Execute
	err := w.FinalizeUpdate(flash.KindApplication, next, "2.0.0")

	// Assert
	assert.ErrorIs(t, err, flash.ErrIncompleteImage)
	assert.False(t, w.Active())
	boot, _ := target.BootPartition()
	assert.Equal(t, "app0", boot.Label)
	assert.Empty(t, versions)
}

// TestWriter_FilesystemDoesNotSwitchBoot tests that filesystem images leave the boot selector alone.
func TestWriter_FilesystemDoesNotSwitchBoot(t *testing.T) {
	target := mocks.NewMemoryFlashTarget(1024, 512)
	target.BootErr = errors.New("must not be called")
	w := flash.NewWriter(target, nil, zerolog.Nop())
	fs, _ := target.FilesystemPartition()
	require.NoError(t, w.BeginUpdate(3, flash.KindFilesystem, fs))
	_, _ = w.Write([]byte("xyz"))

	err := w.FinalizeUpdate(flash.KindFilesystem, fs, "")

	assert.NoError(t, err)
	img, _ := target.Image("spiffs")
	assert.Equal(t, []byte("xyz"), img)
}

// TestWriter_FinalizeMismatch tests that finalize must name the open region.
func TestWriter_FinalizeMismatch(t *testing.T) {
	target := mocks.NewMemoryFlashTarget(1024, 512)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, _ := target.NextUpdatePartition()
	fs, _ := target.FilesystemPartition()
	require.NoError(t, w.BeginUpdate(3, flash.KindApplication, next))

	err := w.FinalizeUpdate(flash.KindFilesystem, fs, "")

	assert.Error(t, err)
	assert.True(t, w.Active())
}

// TestWriter_NoActiveRegion tests calls outside of an update.
func TestWriter_NoActiveRegion(t *testing.T) {
	target := mocks.NewMemoryFlashTarget(1024, 0)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, _ := target.NextUpdatePartition()

	_, err := w.Write([]byte("a"))
	assert.ErrorIs(t, err, flash.ErrNoUpdateActive)
	assert.ErrorIs(t, w.FinalizeUpdate(flash.KindApplication, next, ""), flash.ErrNoUpdateActive)
	w.Abort()
	assert.Zero(t, target.Aborts())
}
