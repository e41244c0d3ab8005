package main

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrollsnap/snap"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	snapCfg, err := cfg.ToSnapConfig()
	require.NoError(t, err)
	assert.Equal(t, snap.DefaultConfig(), snapCfg)
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
input:
  devices: [/dev/input/event7]
  grab: false
snap:
  require_n_samples: 5
  x_threshold: [1, 2]
logging:
  level: debug
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/input/event7"}, cfg.Input.Devices)
	assert.False(t, cfg.Input.Grab)
	assert.Equal(t, 5, cfg.Snap.RequireNSamples)
	assert.Equal(t, []uint32{1, 2}, cfg.Snap.XThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.Snap.YThreshold, cfg.Snap.YThreshold)
	assert.Equal(t, def.IPC.SocketPath, cfg.IPC.SocketPath)
	assert.Equal(t, def.HTTP.Port, cfg.HTTP.Port)
}

func TestLoadConfigFile_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[input]
devices = ["/dev/input/event9"]

[snap]
require_n_samples = 4
lock_for_next_n_events = 2

[http]
port = 0
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/input/event9"}, cfg.Input.Devices)
	assert.Equal(t, 4, cfg.Snap.RequireNSamples)
	assert.Equal(t, uint16(2), cfg.Snap.LockForNextNEvents)
	assert.Equal(t, 0, cfg.HTTP.Port)
	assert.True(t, cfg.Input.Grab)
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{"yaml", "c.yaml", "snap:\n  require_samples: 3\n"},
		{"toml", "c.toml", "[snap]\nrequire_samples = 3\n"},
		{"yaml trailing document", "c.yml", "logging:\n  level: info\n---\nlogging:\n  level: debug\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeFile(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile("")
	assert.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCROLLSNAP_INPUT_DEVICES", "/dev/input/event1,/dev/input/event2")
	t.Setenv("SCROLLSNAP_SNAP_REQUIRE_N_SAMPLES", "7")
	t.Setenv("SCROLLSNAP_SNAP_Y_THRESHOLD", "3,1")
	t.Setenv("SCROLLSNAP_HTTP_PORT", "0")
	t.Setenv("SCROLLSNAP_RELOAD_WATCH", "true")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg))

	assert.Equal(t, []string{"/dev/input/event1", "/dev/input/event2"}, cfg.Input.Devices)
	assert.Equal(t, 7, cfg.Snap.RequireNSamples)
	assert.Equal(t, []uint32{3, 1}, cfg.Snap.YThreshold)
	assert.Equal(t, 0, cfg.HTTP.Port)
	assert.True(t, cfg.Reload.Watch)

	// Unset variables leave values alone.
	assert.Equal(t, DefaultConfig().Logging.Level, cfg.Logging.Level)
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("SCROLLSNAP_HTTP_PORT", "eighty")
	cfg := DefaultConfig()
	assert.Error(t, ApplyEnv(&cfg))
}

func TestFlagOverrides_Apply(t *testing.T) {
	devices := " /dev/input/event3 , ,/dev/input/event4"
	grab := false
	n := 9
	lock := uint(0)
	level := "warn"

	cfg := DefaultConfig()
	FlagOverrides{
		Devices:         &devices,
		Grab:            &grab,
		RequireNSamples: &n,
		LockDurationMS:  &lock,
		LogLevel:        &level,
	}.Apply(&cfg)

	assert.Equal(t, []string{"/dev/input/event3", "/dev/input/event4"}, cfg.Input.Devices)
	assert.False(t, cfg.Input.Grab)
	assert.Equal(t, 9, cfg.Snap.RequireNSamples)
	assert.Equal(t, uint32(0), cfg.Snap.LockDurationMS)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Nil pointers are ignored.
	assert.Equal(t, DefaultConfig().IPC.SocketPath, cfg.IPC.SocketPath)

	FlagOverrides{}.Apply(nil)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeFile(t, "config.yaml", "snap:\n  require_n_samples: 5\n")

	cfg, err := LoadConfig(path, FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Snap.RequireNSamples)

	t.Setenv("SCROLLSNAP_SNAP_REQUIRE_N_SAMPLES", "6")
	cfg, err = LoadConfig(path, FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Snap.RequireNSamples)

	n := 7
	cfg, err = LoadConfig(path, FlagOverrides{RequireNSamples: &n})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Snap.RequireNSamples)
}

func TestLoadConfig_Invalid(t *testing.T) {
	level := "loud"
	_, err := LoadConfig("", FlagOverrides{LogLevel: &level})
	assert.Error(t, err)
}

func TestLoadConfig_RejectsOverflowingFlags(t *testing.T) {
	tooMany := uint(math.MaxUint16 + 1)
	_, err := LoadConfig("", FlagOverrides{LockForNextNEvents: &tooMany})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock-for-next-n-events")

	tooLong := uint(math.MaxUint32)
	tooLong++
	_, err = LoadConfig("", FlagOverrides{LockDurationMS: &tooLong})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock-duration-ms")

	maxEvents := uint(math.MaxUint16)
	cfg, err := LoadConfig("", FlagOverrides{LockForNextNEvents: &maxEvents})
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), cfg.Snap.LockForNextNEvents)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no devices", func(c *Config) { c.Input.Devices = nil }},
		{"empty device", func(c *Config) { c.Input.Devices = []string{""} }},
		{"no output name", func(c *Config) { c.Output.Name = "" }},
		{"no uinput path", func(c *Config) { c.Output.UinputPath = "" }},
		{"bad ratio", func(c *Config) { c.Snap.XThreshold = []uint32{1} }},
		{"zero denominator", func(c *Config) { c.Snap.YThreshold = []uint32{1, 0} }},
		{"same codes", func(c *Config) { c.Snap.EventCodeX = c.Snap.EventCodeY }},
		{"no socket", func(c *Config) { c.IPC.SocketPath = "" }},
		{"negative port", func(c *Config) { c.HTTP.Port = -1 }},
		{"huge port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidateClampsSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Snap.RequireNSamples = 0
	require.NoError(t, cfg.Validate())

	snapCfg, err := cfg.ToSnapConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, snapCfg.RequireNSamples)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/etc/scrollsnap.yaml", ExpandPath("/etc/scrollsnap.yaml"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, ".config/scrollsnap.yaml"), ExpandPath("~/.config/scrollsnap.yaml"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseLogLevel("")
	assert.Error(t, err)
}

func TestSetupLogger_LevelVar(t *testing.T) {
	logger, lv := setupLogger(os.Stderr, slog.LevelWarn)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	lv.Set(slog.LevelDebug)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
