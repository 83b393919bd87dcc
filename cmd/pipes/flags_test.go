package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/pipes/internal/config"
)

func TestInitFlagsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  port: \"7000\"\nlog_level: warn\n"), 0o600))
	t.Setenv("PIPES_LOG_LEVEL", "debug")

	ko := koanf.New(".")
	require.NoError(t, initFlags(ko, []string{"--config", path, "--port", "7100", "--dev"}))

	assert.Equal(t, "7100", ko.String("port"))
	assert.True(t, ko.Bool("dev"))

	cfg, err := config.Unmarshal(ko)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Admin.Port, "the flag is applied by main")
	assert.Equal(t, "debug", cfg.LogLevel, "environment beats files")
	assert.True(t, cfg.Dev)
}

func TestInitFlagsVersion(t *testing.T) {
	ko := koanf.New(".")
	require.NoError(t, initFlags(ko, []string{"--version", "--config", "does-not-exist.yaml"}))
	assert.True(t, ko.Bool("version"))
}

func TestInitFlagsBadFile(t *testing.T) {
	ko := koanf.New(".")
	assert.ErrorIs(t, initFlags(ko, []string{"--config", "host.ini"}), config.ErrUnsupportedFormat)
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipes.log")
	for _, line := range []string{"first\n", "second\n"} {
		f, err := openLogFile(path)
		require.NoError(t, err)
		_, err = f.WriteString(line)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(b))
}
