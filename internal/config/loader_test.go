package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsRedisDialTimeout(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout.Duration)
}

func TestLoadOverridesRedisDialTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[redis]
addr = "localhost:6379"
dial_timeout = "750ms"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Redis.DialTimeout.Duration)
	assert.True(t, cfg.Redis.Enabled())
}
