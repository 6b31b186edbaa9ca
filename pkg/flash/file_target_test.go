package flash_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/benmeehan/display-agent/pkg/file"
	"github.com/benmeehan/display-agent/pkg/flash"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileTarget(t *testing.T, dir string) *flash.FileTarget {
	t.Helper()
	apps := []flash.Slot{
		{Partition: flash.Partition{Label: "app0", Size: 64}, Path: filepath.Join(dir, "app0.img")},
		{Partition: flash.Partition{Label: "app1", Size: 64}, Path: filepath.Join(dir, "app1.img")},
	}
	fs := &flash.Slot{Partition: flash.Partition{Label: "spiffs", Offset: 8, Size: 32}, Path: filepath.Join(dir, "fs.img")}
	target, err := flash.NewFileTarget(apps, fs, filepath.Join(dir, "boot.json"), file.NewFileService(), zerolog.Nop())
	require.NoError(t, err)
	return target
}

// TestFileTarget_UpdateAndBootSwitch tests writing the inactive slot and persisting the boot selector.
func TestFileTarget_UpdateAndBootSwitch(t *testing.T) {
	// Setup
	dir := t.TempDir()
	target := newFileTarget(t, dir)
	w := flash.NewWriter(target, nil, zerolog.Nop())
	next, err := target.NextUpdatePartition()
	require.NoError(t, err)
	assert.Equal(t, "app1", next.Label)

	// Execute
	require.NoError(t, w.BeginUpdate(5, flash.KindApplication, next))
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	err = w.FinalizeUpdate(flash.KindApplication, next, "1.1.0")

	// Assert
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "app1.img"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	boot, err := target.BootPartition()
	require.NoError(t, err)
	assert.Equal(t, "app1", boot.Label)
	running, _ := target.RunningPartition()
	assert.Equal(t, "app0", running.Label)

	// A restarted agent runs the slot the selector names.
	reloaded := newFileTarget(t, dir)
	running, _ = reloaded.RunningPartition()
	assert.Equal(t, "app1", running.Label)
	next, _ = reloaded.NextUpdatePartition()
	assert.Equal(t, "app0", next.Label)
}

// TestFileTarget_RefusesRunningSlot tests that the running slot cannot be opened.
func TestFileTarget_RefusesRunningSlot(t *testing.T) {
	target := newFileTarget(t, t.TempDir())
	running, _ := target.RunningPartition()

	err := target.Begin(flash.KindApplication, running, 4)

	assert.ErrorContains(t, err, "refusing to overwrite running partition")
}

// TestFileTarget_FilesystemOffset tests that the filesystem image lands at the slot offset.
func TestFileTarget_FilesystemOffset(t *testing.T) {
	// Setup
	dir := t.TempDir()
	target := newFileTarget(t, dir)
	fs, err := target.FilesystemPartition()
	require.NoError(t, err)

	// Execute
	require.NoError(t, target.Begin(flash.KindFilesystem, fs, 3))
	_, err = target.Write([]byte("abc"))
	require.NoError(t, err)
	err = target.End()

	// Assert
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "fs.img"))
	require.NoError(t, err)
	assert.Len(t, content, 40)
	assert.Equal(t, "abc", string(content[8:11]))
	assert.Equal(t, make([]byte, 29), content[11:])
}

// writeImage installs image into partition p through the target.
func writeImage(t *testing.T, target *flash.FileTarget, kind flash.ImageKind, p flash.Partition, image []byte) {
	t.Helper()
	require.NoError(t, target.Begin(kind, p, int64(len(image))))
	_, err := target.Write(image)
	require.NoError(t, err)
	require.NoError(t, target.End())
}

// TestFileTarget_SmallerImageReplacesLarger tests that no bytes of a previous,
// larger image survive in the slot.
func TestFileTarget_SmallerImageReplacesLarger(t *testing.T) {
	// Setup
	dir := t.TempDir()
	target := newFileTarget(t, dir)
	next, err := target.NextUpdatePartition()
	require.NoError(t, err)
	fs, err := target.FilesystemPartition()
	require.NoError(t, err)
	writeImage(t, target, flash.KindApplication, next, []byte("0123456789abcdef0123456789abcdef"))
	writeImage(t, target, flash.KindFilesystem, fs, []byte("FFFFFFFFFFFFFFFFFFFF"))

	// Execute
	writeImage(t, target, flash.KindApplication, next, []byte("v2"))
	writeImage(t, target, flash.KindFilesystem, fs, []byte("fs2"))

	// Assert
	app, err := os.ReadFile(filepath.Join(dir, "app1.img"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(app))

	hash, err := file.NewFileService().GetFileHash(filepath.Join(dir, "app1.img"))
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("v2"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	fsImage, err := os.ReadFile(filepath.Join(dir, "fs.img"))
	require.NoError(t, err)
	assert.Equal(t, "fs2", string(fsImage[8:11]))
	assert.Equal(t, make([]byte, 29), fsImage[11:40])
}

// TestFileTarget_EndIncomplete tests that End rejects a short image.
func TestFileTarget_EndIncomplete(t *testing.T) {
	target := newFileTarget(t, t.TempDir())
	next, _ := target.NextUpdatePartition()
	require.NoError(t, target.Begin(flash.KindApplication, next, 10))
	_, _ = target.Write([]byte("abc"))

	err := target.End()

	assert.ErrorIs(t, err, flash.ErrIncompleteImage)
}

// TestFileTarget_UnknownBootSlot tests that a corrupt selector is reported.
func TestFileTarget_UnknownBootSlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.json"), []byte(`{"label":"app9"}`), 0600))
	apps := []flash.Slot{{Partition: flash.Partition{Label: "app0", Size: 8}, Path: filepath.Join(dir, "app0.img")}}

	_, err := flash.NewFileTarget(apps, nil, filepath.Join(dir, "boot.json"), file.NewFileService(), zerolog.Nop())

	assert.ErrorContains(t, err, "unknown slot")
}
