package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidwire/postauction/errs"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, Default().Engine.AuctionTimeout, cfg.Engine.AuctionTimeout)
	require.Equal(t, Default().Service.AdminAddr, cfg.Service.AdminAddr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postauction.yaml")
	body := `
service:
  adminAddr: ":9001"
engine:
  auctionTimeout: 30s
  sweepInterval: 2s
agents:
  directory:
    "acct:campaign:1": "ws://agent-1:7000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, ":9001", cfg.Service.AdminAddr)
	require.Equal(t, 30*time.Second, cfg.Engine.AuctionTimeout)
	require.Equal(t, 2*time.Second, cfg.Engine.SweepInterval)
	require.Equal(t, "ws://agent-1:7000", cfg.Agents.Directory["acct:campaign:1"])
	// Untouched sections keep defaults.
	require.Equal(t, Default().Engine.QueueCapacity, cfg.Engine.QueueCapacity)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postauction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  auctionTimeout: 30s\n"), 0o600))
	t.Setenv("POSTAUCTION_AUCTION_TIMEOUT", "45s")
	t.Setenv("POSTAUCTION_ARCHIVE_DSN", "postgres://localhost/outcomes")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Engine.AuctionTimeout)
	require.Equal(t, "postgres://localhost/outcomes", cfg.Archive.DSN)
}

func TestValidateRejectsNegativeTimeouts(t *testing.T) {
	for name, mutate := range map[string]func(*Settings){
		"negative win timeout":     func(s *Settings) { s.Engine.WinTimeout = -time.Second },
		"negative auction timeout": func(s *Settings) { s.Engine.AuctionTimeout = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, errs.HasCode(err, errs.CodeConfig))
		})
	}
}

func TestValidateRequiresSweepIntervalBelowAuctionTimeout(t *testing.T) {
	cfg := Default()
	cfg.Engine.AuctionTimeout = 2 * time.Second
	cfg.Engine.SweepInterval = 2 * time.Second
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeConfig))

	cfg.Engine.SweepInterval = time.Second
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [not a map"), 0o600))
	_, _, err := Load(path)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeConfig))
}
