package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsPopulated(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1_000_000, cfg.Memory.MaxFacts)
	assert.Equal(t, "priority", cfg.Agenda.Strategy)
	assert.True(t, cfg.RejectActionCycles)
}

func TestLoadOverlaysPartialFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agenda:\n  strategy: lexicographic\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lexicographic", cfg.Agenda.Strategy)
	assert.Equal(t, 1_000_000, cfg.Memory.MaxFacts, "unspecified fields should keep their default")
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
