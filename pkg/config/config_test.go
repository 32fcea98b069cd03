package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBackendURL, cfg.Backend.BaseURL)
	assert.Equal(t, 900*time.Second, cfg.Trade.PaymentWindow)
	assert.Equal(t, 2*time.Second, cfg.Trade.SyncInterval)
	assert.Equal(t, 30, cfg.Trade.SyncMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Trade.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Trade.StuckProofGrace)
	assert.Equal(t, 15*time.Minute, cfg.Trade.PollCeiling)
	assert.Equal(t, time.Second, cfg.Trade.ExpiryTick)
	assert.Equal(t, "rate_asc", cfg.Orders.Sort)
	assert.Equal(t, "0.1", cfg.Fees["USDT"].Public.String())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	p := writeFile(t, "p2p.yaml", `
backend:
  base_url: https://api.example.org
trade:
  poll_interval_seconds: 5
  stuck_proof_grace_seconds: 300
  poll_ceiling_seconds: 1800
fees:
  usdt:
    public: "0.25"
    private: "0.05"
orders:
  sort: newest
`)
	t.Setenv("P2P_POLL_CEILING_SECONDS", "600")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.org", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Trade.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Trade.StuckProofGrace)
	assert.Equal(t, 10*time.Minute, cfg.Trade.PollCeiling, "env overrides file")
	assert.Equal(t, "newest", cfg.Orders.Sort)
	assert.Equal(t, "0.25", cfg.Fees["USDT"].Public.String())
	assert.Equal(t, "0.05", cfg.Fees["USDT"].Private.String())
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Run("unknown extension", func(t *testing.T) {
		p := writeFile(t, "p2p.toml", "x = 1")
		_, err := Load(p)
		require.Error(t, err)
	})

	t.Run("negative fee", func(t *testing.T) {
		p := writeFile(t, "p2p.yaml", "fees:\n  usdt:\n    public: \"-1\"\n")
		_, err := Load(p)
		require.Error(t, err)
	})

	t.Run("bad fee", func(t *testing.T) {
		p := writeFile(t, "p2p.json", `{"fees":{"usdt":{"public":"abc"}}}`)
		_, err := Load(p)
		require.Error(t, err)
	})
}
