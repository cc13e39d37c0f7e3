package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, "127.0.0.1:8791", cfg.APIListen)
	require.Equal(t, 5*time.Minute, cfg.ReconcileStd())
	require.Equal(t, 120*time.Second, cfg.Executor.StepTimeout.Std())
	require.Equal(t, 3*time.Second, cfg.Executor.ConfirmInterval.Std())
	require.Equal(t, 2, cfg.Executor.MaxRetries)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gyield.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
datadir = "/var/lib/gyield"
api_listen = "0.0.0.0:9000"
advisor_ws = "wss://advisor.example/stream"
reconcile_interval = "2m"

[executor]
step_timeout = "90s"
confirm_interval = "1s"
max_retries = 4

[influx]
url = "http://influx:8086"
org = "ops"
bucket = "gyield"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gyield", cfg.DataDir)
	require.Equal(t, "0.0.0.0:9000", cfg.APIListen)
	require.Equal(t, "wss://advisor.example/stream", cfg.AdvisorWS)
	require.Equal(t, 2*time.Minute, cfg.ReconcileStd())
	require.Equal(t, 90*time.Second, cfg.Executor.StepTimeout.Std())
	require.Equal(t, time.Second, cfg.Executor.ConfirmInterval.Std())
	require.Equal(t, 4, cfg.Executor.MaxRetries)
	require.Equal(t, "http://influx:8086", cfg.Influx.URL)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gyield.toml")
	require.NoError(t, os.WriteFile(path, []byte(`datadir = "/srv/gyield"`+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/gyield", cfg.DataDir)
	require.Equal(t, 120*time.Second, cfg.Executor.StepTimeout.Std())
	require.Equal(t, "127.0.0.1:8791", cfg.APIListen)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`datadir = ""`+"\n"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)

	badDuration := filepath.Join(t.TempDir(), "dur.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte("datadir = \"x\"\nreconcile_interval = \"soon\"\n"), 0o600))
	_, err = Load(badDuration)
	require.Error(t, err)
}
