package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv supplies the credentials LoadConfig refuses to start without.
func setRequiredEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
}

func TestLoadConfig_LifecycleDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.0008, cfg.FeeRate)
	assert.Equal(t, 0.01, cfg.TrailBasePct)
	assert.Equal(t, 0.004, cfg.TrailMinPct)
	assert.Equal(t, 0.05, cfg.TrailMaxPct)
	assert.Equal(t, 0.02, cfg.TrailRefVol)
	assert.Equal(t, 0.002, cfg.BreakevenBuffer)
	assert.Equal(t, 0.60, cfg.TPProgressLock)
	assert.Equal(t, 1.25, cfg.TPExtendFactor)
	assert.Equal(t, []float64{0.15, 0.20, 0.25}, cfg.ProtectionTiers)
	assert.Equal(t, 0.10, cfg.DrawdownPeakROI)
	assert.Equal(t, 0.30, cfg.DrawdownRetrace)
}

func TestLoadConfig_LifecycleOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FEE_RATE", "0.001")
	t.Setenv("TRAIL_BASE_PCT", "0.02")
	t.Setenv("TRAIL_MAX_PCT", "0.03")
	t.Setenv("BREAKEVEN_BUFFER", "0.004")
	t.Setenv("PROTECTION_TIERS", "0.10,0.18")
	t.Setenv("DRAWDOWN_RETRACE", "0.25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.001, cfg.FeeRate)
	assert.Equal(t, 0.02, cfg.TrailBasePct)
	assert.Equal(t, 0.03, cfg.TrailMaxPct)
	assert.Equal(t, 0.004, cfg.BreakevenBuffer)
	assert.Equal(t, []float64{0.10, 0.18}, cfg.ProtectionTiers)
	assert.Equal(t, 0.25, cfg.DrawdownRetrace)
}

func TestLoadConfig_ProtectionTiersDisabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROTECTION_TIERS", "none")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.ProtectionTiers)
}

func TestLoadConfig_RejectsBadLifecycleValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"tiers not ascending", "PROTECTION_TIERS", "0.20,0.15"},
		{"tiers not numeric", "PROTECTION_TIERS", "0.15,high"},
		{"negative fee", "FEE_RATE", "-0.001"},
		{"trail floor above ceiling", "TRAIL_MIN_PCT", "0.10"},
		{"progress lock above one", "TP_PROGRESS_LOCK", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_RequiresCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
}
