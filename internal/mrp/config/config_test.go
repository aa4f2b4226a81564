package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringmrp/mrpd/internal/mrp/ctlserver"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mrpd.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultFillsEveryField(t *testing.T) {
	cfg := Default()
	require.Equal(t, DriverNetlink, cfg.Driver)
	require.Equal(t, ctlserver.DefaultSockAddr, cfg.ControlSockAddr)
	require.Equal(t, DefaultTimeFactor, cfg.TimeFactor)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.ExecCommandPath)
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"driver": "exec",
		"exec_command_path": "/usr/sbin/bridge",
		"control_sock_addr": "@custom",
		"metrics_listen_addr": ":9200",
		"enable_dbus": true,
		"time_factor": 4,
		"log_level": "debug"
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, &Config{
		Driver:            DriverExec,
		ExecCommandPath:   "/usr/sbin/bridge",
		ControlSockAddr:   "@custom",
		MetricsListenAddr: ":9200",
		EnableDBus:        true,
		TimeFactor:        4,
		LogLevel:          "debug",
	}, cfg)
}

func TestLoadDefaultsExecCommandPath(t *testing.T) {
	path := writeConfig(t, `{"driver": "exec"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bridge", cfg.ExecCommandPath)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `{"driver": "userspace"}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown driver")
}

func TestLoadRejectsNegativeTimeFactor(t *testing.T) {
	path := writeConfig(t, `{"time_factor": -1}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "time_factor")
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, `{"log_level": "verbose"}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown log_level")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
