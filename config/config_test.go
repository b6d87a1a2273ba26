package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hvman.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "127.0.0.1:7200", cfg.Hypervisor.Address)
	assert.Equal(t, 30*time.Second, cfg.Hypervisor.CommandTimeout)
	assert.Equal(t, 5*time.Second, cfg.Hypervisor.DialTimeout)
	assert.Equal(t, config.PortRangeConfig{StartPort: 10000, EndPort: 20000}, cfg.UDP.Range())
	assert.Equal(t, config.PortRangeConfig{StartPort: 3501, EndPort: 4000}, cfg.Console)
	assert.Equal(t, "/run/hvman", cfg.Runtime.Base)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

// TestLoad_OverlaysDefaults verifies that:
//
//	Given a file that only sets the UDP range and a component level,
//	When it is loaded,
//	Then those values replace the defaults,
//	And every other field keeps its default.
func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[udp]
start_port = 35001
end_port = 35003

[logging.components]
hypervisor = "trace"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 35001, cfg.UDP.StartPort)
	assert.Equal(t, 35003, cfg.UDP.EndPort)
	assert.Equal(t, "127.0.0.1", cfg.UDP.Host)
	assert.Equal(t, "127.0.0.1:7200", cfg.Hypervisor.Address)
	assert.Equal(t, "warn,hypervisor=trace", cfg.Logging.ToSpec())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"syntax", "[udp\nstart_port = 1", "failed to parse"},
		{"unknown key", "[udp]\nfirst_port = 1", "unknown keys"},
		{"inverted range", "[udp]\nstart_port = 200\nend_port = 100", "udp: invalid port range"},
		{"bad console", "[console]\nend_port = 70000", "console: invalid port range"},
		{"bad level", "[logging]\nlevel = \"loud\"", "logging.level"},
		{"bad timeout", "[hypervisor]\ncommand_timeout = \"0s\"", "command_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_UnreadableIsError(t *testing.T) {
	_, err := config.Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestLoggingConfig_LevelOverridesComponents(t *testing.T) {
	c := config.LoggingConfig{
		Level:      "warn,manager=debug",
		Components: map[string]string{"manager": "trace", "store": "debug"},
	}
	assert.Equal(t, "warn,manager=debug,store=debug", c.ToSpec())
}
