package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEDUPE_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, int64(60000), cfg.LeaseMS)
	assert.Equal(t, time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 10, cfg.PartialSaveInterval)
	assert.True(t, cfg.DedupeEnabled)
}

func TestLoadLeaseMillisecondForm(t *testing.T) {
	t.Setenv("DEDUPE_SECRET", "s3cret")
	t.Setenv("LEASE_MS", "90000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.LeaseDuration)
}

func TestLoadRejectsNonPositiveLease(t *testing.T) {
	t.Setenv("DEDUPE_SECRET", "s3cret")
	t.Setenv("LEASE_MS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEASE_MS")
}

func TestLoadRequiresDedupeSecret(t *testing.T) {
	t.Setenv("DEDUPE_SECRET", "")
	t.Setenv("DEDUPE_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUPE_SECRET")
}
