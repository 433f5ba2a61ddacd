package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileUsesDefaultsWhenFileAbsent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadWithFileReadsYAMLOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	configDir := filepath.Join(home, ".config", "agentsearch")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("data_dir: "+filepath.Join(home, "custom")+"\n"), 0600))

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "custom"), cfg.DataDir)
}

func TestLoadWithFileRejectsInsecurePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	configDir := filepath.Join(home, ".config", "agentsearch")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("data_dir: /tmp/x\n"), 0644))

	_, err := LoadWithFile(configPath)
	assert.Error(t, err)
}

func TestLoadWithFileRejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	outside := filepath.Join(home, "not-config", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(outside), 0700))
	require.NoError(t, os.WriteFile(outside, []byte("data_dir: /tmp/x\n"), 0600))

	_, err := LoadWithFile(outside)
	assert.Error(t, err)
}

func TestLoadWithFileEnvVarOverridesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("AGENTSEARCH_DATA_DIR", filepath.Join(home, "from-env"))

	configDir := filepath.Join(home, ".config", "agentsearch")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("data_dir: "+filepath.Join(home, "from-yaml")+"\n"), 0600))

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "from-env"), cfg.DataDir)
}
