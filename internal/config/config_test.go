package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEqual(t, cfg.DBPath, cfg.IndexDir)
}

func TestValidateRejectsEmptyFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMatchingDBPathAndIndexDir(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DBPath = "/tmp/same"
	cfg.IndexDir = "/tmp/same"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeDebounce(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Watch.Debounce = Duration(-1 * time.Second)
	assert.Error(t, cfg.Validate())
}

func TestEnsureDirsCreatesDataAndIndexDirs(t *testing.T) {
	tmp := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.DataDir = filepath.Join(tmp, "data")
	cfg.IndexDir = filepath.Join(tmp, "data", "index")
	cfg.DBPath = filepath.Join(tmp, "data", "db", "agent_search.db")

	require.NoError(t, cfg.EnsureDirs())

	for _, dir := range []string{cfg.DataDir, cfg.IndexDir, filepath.Dir(cfg.DBPath)} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDurationUnmarshalTextRejectsNegative(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("-5s"))
	assert.Error(t, err)
}

func TestDurationRoundTripsThroughText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("750ms")))
	assert.Equal(t, 750*time.Millisecond, d.Duration())

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "750ms", string(b))
}
