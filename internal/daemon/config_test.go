package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:9009", cfg.Address)
	assert.Equal(t, filepath.Join("log", "ferret_server.pid"), cfg.PIDPath)
	assert.Equal(t, CodecJSON, cfg.Codec)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty address", func(c *Config) { c.Address = "" }},
		{"tcp without port", func(c *Config) { c.Address = "localhost" }},
		{"empty pid path", func(c *Config) { c.PIDPath = "" }},
		{"unknown codec", func(c *Config) { c.Codec = "xml" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative rebuild timeout", func(c *Config) { c.RebuildTimeout = -time.Second }},
		{"zero grace", func(c *Config) { c.ShutdownGracePeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in, network, addr string
	}{
		{"localhost:9009", "tcp", "localhost:9009"},
		{"tcp://10.0.0.1:9009", "tcp", "10.0.0.1:9009"},
		{"unix:/tmp/ferret.sock", "unix", "/tmp/ferret.sock"},
		{"/var/run/ferret.sock", "unix", "/var/run/ferret.sock"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			network, addr := ParseAddress(tt.in)
			assert.Equal(t, tt.network, network)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Address = "unix:" + filepath.Join(dir, "run", "ferret.sock")
	cfg.PIDPath = filepath.Join(dir, "log", "ferret.pid")

	require.NoError(t, cfg.EnsureDir())

	for _, sub := range []string{"run", "log"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
