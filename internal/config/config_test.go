package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, "./data", cfg.StoragePath)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 5*time.Second, cfg.DetectTimeout)
	assert.Equal(t, 100, cfg.DefaultPageSize)
	assert.Equal(t, 1000, cfg.MaxPageSize)
	assert.True(t, cfg.Watch)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, filepath.Join("./data", "connections.json"), cfg.RegistryPath())
	assert.Empty(t, cfg.ConfigFileUsed)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("port: 7000\nstorage_path: /srv/echo\nread_only: true\nquery_timeout: 10s\n"), 0o644))
	t.Setenv("ECHO_PORT", "7100")
	t.Setenv("ECHO_LOG_LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.Bool("read-only", false, "")
	require.NoError(t, flags.Parse([]string{"--read-only=false"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigFile, cfg.ConfigFileUsed)
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, "/srv/echo", cfg.StoragePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, "/srv/echo/connections.json", cfg.RegistryPath())
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ECHO_DEFAULT_PAGE_SIZE", "5000")
	_, err := Load("", nil)
	assert.Error(t, err)
}
