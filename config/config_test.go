package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysPartialFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	yamlContent := "kcp:\n  mss: 512\n  timeout_ms: 5000\nring:\n  entries: 1024\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.KCP.MSS)
	assert.Equal(t, uint32(5000), cfg.KCP.TimeoutMs)
	assert.Equal(t, 1024, cfg.Ring.Entries)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().KCP.FastResend, cfg.KCP.FastResend)
	assert.Equal(t, Default().Buffer, cfg.Buffer)
}

func TestLoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kcp: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
