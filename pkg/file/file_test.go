package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFileService_JsonRoundTrip tests the atomic JSON write and its read back.
func TestFileService_JsonRoundTrip(t *testing.T) {
	// Setup
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := map[string]string{"app1": "2.0.0"}

	// Execute
	err := fs.WriteJsonFile(path, in)

	// Assert
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, fs.ReadJsonFile(path, &out))
	assert.Equal(t, in, out)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

// TestFileService_GetFileHash tests the SHA-256 of a known file.
func TestFileService_GetFileHash(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))

	hash, err := fs.GetFileHash(path)

	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
}

// TestFileService_MissingFiles tests the not-found behaviour.
func TestFileService_MissingFiles(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "missing")

	exists, err := fs.IsFileExists(path)
	assert.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, fs.RemoveFile(path))
	_, err = fs.GetFileHash(path)
	assert.Error(t, err)
}

// TestFileService_ReadYamlFile tests decoding a YAML document.
func TestFileService_ReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web:\n  listen_addr: \":9090\"\n"), 0600))

	var cfg struct {
		Web struct {
			ListenAddr string `yaml:"listen_addr"`
		} `yaml:"web"`
	}
	err := fs.ReadYamlFile(path, &cfg)

	assert.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Web.ListenAddr)
}
