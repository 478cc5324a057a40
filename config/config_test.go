package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	doc := []byte(`
model:
  endTime: 1000
  timeStep: 10
  volumeStep: 30
  maxVolMake: 300
  maxVolTake: 300
  lbShares: -2000
  ubShares: 2000
backtest:
  periods: 99
  step: 10
  drift: 0
  runs: 1000
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Model.EndTime)
	require.Equal(t, 30.0, cfg.Model.VolumeStep)
	require.Equal(t, 1000, cfg.Backtest.Runs)
	// untouched values keep their defaults
	require.Equal(t, 0.01, cfg.Model.Tick)
	require.Equal(t, 4, cfg.Model.Delay)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MMPOLICY_STORAGE_DSN", "postgres://localhost/mmpolicy")
	t.Setenv("MMPOLICY_SEED", "4242")
	t.Setenv("MMPOLICY_RUNS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/mmpolicy", cfg.Storage.DSN)
	require.Equal(t, int64(4242), cfg.Backtest.Seed)
	require.Equal(t, 7, cfg.Backtest.Runs)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"inverted time", func(s *Settings) { s.Model.EndTime = s.Model.StartTime }},
		{"zero tick", func(s *Settings) { s.Model.Tick = 0 }},
		{"negative volume step", func(s *Settings) { s.Model.VolumeStep = -1 }},
		{"inverted inventory bounds", func(s *Settings) { s.Model.LBShares, s.Model.UBShares = 10, -10 }},
		{"zero delay", func(s *Settings) { s.Model.Delay = 0 }},
		{"negative gamma", func(s *Settings) { s.Model.Gamma = -0.1 }},
		{"one period", func(s *Settings) { s.Backtest.Periods = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
