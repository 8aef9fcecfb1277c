package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "pwnflow", cfg.Logger.ServiceName)
	assert.Equal(t, 100_000, cfg.Crypto.PBKDF2Iterations)
	assert.Equal(t, 24, cfg.Crypto.GeneratedPasswordLength)
	assert.Equal(t, 64, cfg.Importer.ProgressQueueSize)
	assert.Equal(t, time.Second, cfg.Importer.HeartbeatInterval)
	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("importer.progress_queue_size", 8)
	v.Set("importer.heartbeat_interval", "250ms")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Importer.ProgressQueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Importer.HeartbeatInterval)
}

func TestValidateRejectsWeakKDF(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("crypto.pbkdf2_iterations", 1000)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pbkdf2_iterations")
}

func TestValidateRejectsShortGeneratedPassword(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("crypto.generated_password_length", 8)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generated_password_length")
}
