package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(10485760), cfg.Body.MaxSize)
	assert.Equal(t, 8192, cfg.Body.ChunkSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "reject", cfg.Socket.UnknownPolicy)
	assert.False(t, cfg.CORS.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keel.yaml")
	content := `
server:
  port: 9999
  read_timeout: 5s
cors:
  enabled: true
  allowed_origins:
    - https://app.example
rate_limit:
  enabled: true
  rps: 25
socket:
  options:
    tcp-no-delay: "true"
  unknown_policy: ignore
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "defaults survive partial files")
	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://app.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, float64(25), cfg.RateLimit.RPS)
	assert.Equal(t, 50, cfg.RateLimit.Burst, "defaults survive partial files")
	assert.Equal(t, "ignore", cfg.Socket.UnknownPolicy)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0644))
	t.Setenv("KEEL_SERVER_PORT", "7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestLoadPrecedenceAcrossAllTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keel.yaml")
	content := `
server:
  port: 9999
  read_timeout: 5s
cors:
  enabled: true
socket:
  unknown_policy: ignore
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("KEEL_SERVER_HOST", "127.0.0.1")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins where set.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	// File values survive the env pass where the variable is unset.
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, "ignore", cfg.Socket.UnknownPolicy)
	// Fields set nowhere keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "zero read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }},
		{name: "bad unknown policy", mutate: func(c *Config) { c.Socket.UnknownPolicy = "maybe" }},
		{name: "zero-worker pool", mutate: func(c *Config) {
			c.Executors.Pools = map[string]int{"io": 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.ReadTimeout = 15 * time.Second
			cfg.Server.WriteTimeout = 15 * time.Second
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSocketOptionsResolve(t *testing.T) {
	t.Run("known options parse", func(t *testing.T) {
		s := SocketConfig{
			Options: map[string]string{
				"reuse-address": "true",
				"recv-buffer":   "65536",
			},
			UnknownPolicy: "reject",
		}
		resolved, err := s.Resolve()
		require.NoError(t, err)
		assert.Len(t, resolved, 2)
	})

	t.Run("unknown rejected", func(t *testing.T) {
		s := SocketConfig{
			Options:       map[string]string{"so-magic": "1"},
			UnknownPolicy: "reject",
		}
		_, err := s.Resolve()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "so-magic")
	})

	t.Run("unknown ignored", func(t *testing.T) {
		s := SocketConfig{
			Options: map[string]string{
				"so-magic":     "1",
				"tcp-no-delay": "true",
			},
			UnknownPolicy: "ignore",
		}
		resolved, err := s.Resolve()
		require.NoError(t, err)
		assert.Len(t, resolved, 1)
	})

	t.Run("bad boolean", func(t *testing.T) {
		s := SocketConfig{
			Options:       map[string]string{"keep-alive": "sometimes"},
			UnknownPolicy: "reject",
		}
		_, err := s.Resolve()
		assert.Error(t, err)
	})

	t.Run("negative buffer", func(t *testing.T) {
		s := SocketConfig{
			Options:       map[string]string{"send-buffer": "-1"},
			UnknownPolicy: "reject",
		}
		_, err := s.Resolve()
		assert.Error(t, err)
	})
}

func TestSocketControl(t *testing.T) {
	t.Run("no options yields nil control", func(t *testing.T) {
		ctrl, err := SocketConfig{UnknownPolicy: "reject"}.Control(nil)
		require.NoError(t, err)
		assert.Nil(t, ctrl)
	})

	t.Run("options yield control func", func(t *testing.T) {
		ctrl, err := SocketConfig{
			Options:       map[string]string{"tcp-no-delay": "true"},
			UnknownPolicy: "reject",
		}.Control(nil)
		require.NoError(t, err)
		assert.NotNil(t, ctrl)
	})
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
