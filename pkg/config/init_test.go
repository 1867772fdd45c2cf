package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nasscan", "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, section := range []string{"logging:", "api:", "storage:", "scanner:", "scheduler:", "scans:"} {
		assert.Contains(t, string(content), section)
	}

	// The sample must stay valid YAML.
	var cfg Config
	require.NoError(t, yaml.Unmarshal(content, &cfg))
	require.Len(t, cfg.Scans, 1)
	assert.Equal(t, "6h", cfg.Scans[0].Interval)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestInitConfigToPathRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep: me\n"), 0600))

	err := InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep: me\n", string(content))

	require.NoError(t, InitConfigToPath(path, true))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "keep: me\n", string(content))
}

func TestInitConfigUsesDefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)
	assert.True(t, DefaultConfigExists())
}
