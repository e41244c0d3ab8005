package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"scrollsnap/snap"
)

// envPrefix is prepended to every environment override, e.g.
// SCROLLSNAP_SNAP_REQUIRE_N_SAMPLES=4 or SCROLLSNAP_INPUT_DEVICES=/dev/input/event3,/dev/input/event5.
const envPrefix = "SCROLLSNAP_"

// Config is the top-level configuration for the scrollsnapd daemon.
//
// Sources are layered: DefaultConfig, then the config file (YAML, or TOML
// when the file name ends in .toml), then SCROLLSNAP_* environment variables,
// then command-line flags. Validate is called once on the result.
type Config struct {
	Input   InputConfig   `yaml:"input" toml:"input" envPrefix:"INPUT_"`
	Output  OutputConfig  `yaml:"output" toml:"output" envPrefix:"OUTPUT_"`
	Snap    snap.Settings `yaml:"snap" toml:"snap" envPrefix:"SNAP_"`
	IPC     IPCConfig     `yaml:"ipc" toml:"ipc" envPrefix:"IPC_"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http" envPrefix:"HTTP_"`
	Logging LoggingConfig `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Reload  ReloadConfig  `yaml:"reload" toml:"reload" envPrefix:"RELOAD_"`
}

type InputConfig struct {
	Devices []string `yaml:"devices" toml:"devices" env:"DEVICES"` // evdev nodes to read
	Grab    bool     `yaml:"grab" toml:"grab" env:"GRAB"`          // take exclusive access (EVIOCGRAB)

	// DropHiRes discards REL_WHEEL_HI_RES / REL_HWHEEL_HI_RES, which would
	// otherwise reach the output unsnapped.
	DropHiRes bool `yaml:"drop_hi_res" toml:"drop_hi_res" env:"DROP_HI_RES"`
}

type OutputConfig struct {
	Name       string `yaml:"name" toml:"name" env:"NAME"`
	UinputPath string `yaml:"uinput_path" toml:"uinput_path" env:"UINPUT_PATH"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path" env:"SOCKET_PATH"`
}

type HTTPConfig struct {
	Port int `yaml:"port" toml:"port" env:"PORT"` // 0 disables the HTTP server
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
}

type ReloadConfig struct {
	Watch bool `yaml:"watch" toml:"watch" env:"WATCH"` // re-apply the snap section when the config file changes
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices:   []string{"/dev/input/event0"},
			Grab:      true,
			DropHiRes: true,
		},
		Output: OutputConfig{
			Name:       "scrollsnap virtual pointer",
			UinputPath: "/dev/uinput",
		},
		Snap: snap.DefaultSettings(),
		IPC: IPCConfig{
			SocketPath: "/tmp/scrollsnap.sock",
		},
		HTTP: HTTPConfig{
			Port: 3011,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Reload: ReloadConfig{
			Watch: false,
		},
	}
}

// LoadConfigFile reads a config file on top of DefaultConfig.
//
// Unknown fields are rejected in both formats to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	path = ExpandPath(path)
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.NewDecoder(bytes.NewReader(b)).Decode(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config toml: unknown field %q", undecoded[0].String())
		}
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults only.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with any SCROLLSNAP_* variables that are set.
// Unset variables leave the current values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FlagOverrides holds pointers to flag values; a nil pointer means "not set".
type FlagOverrides struct {
	Devices    *string // comma-separated
	Grab       *bool
	OutputName *string

	RequireNSamples        *int
	ImmediateSnapThreshold *uint
	LockDurationMS         *uint
	LockForNextNEvents     *uint
	IdleResetTimeoutMS     *uint

	IPCSocketPath *string
	HTTPPort      *int
	LogLevel      *string
	Watch         *bool
}

// Validate rejects flag values that do not fit their config field.
func (o FlagOverrides) Validate() error {
	checks := []struct {
		name string
		v    *uint
		max  uint64
	}{
		{"immediate-snap-threshold", o.ImmediateSnapThreshold, math.MaxUint32},
		{"lock-duration-ms", o.LockDurationMS, math.MaxUint32},
		{"lock-for-next-n-events", o.LockForNextNEvents, math.MaxUint16},
		{"idle-reset-timeout-ms", o.IdleResetTimeoutMS, math.MaxUint32},
	}
	for _, c := range checks {
		if c.v != nil && uint64(*c.v) > c.max {
			return fmt.Errorf("-%s: %d is out of range (max %d)", c.name, *c.v, c.max)
		}
	}
	return nil
}

// Apply merges the overrides into cfg. Non-nil pointers are applied even when
// they hold a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Devices != nil {
		cfg.Input.Devices = splitList(*o.Devices)
	}
	if o.Grab != nil {
		cfg.Input.Grab = *o.Grab
	}
	if o.OutputName != nil {
		cfg.Output.Name = *o.OutputName
	}

	if o.RequireNSamples != nil {
		cfg.Snap.RequireNSamples = *o.RequireNSamples
	}
	if o.ImmediateSnapThreshold != nil {
		cfg.Snap.ImmediateSnapThreshold = uint32(*o.ImmediateSnapThreshold)
	}
	if o.LockDurationMS != nil {
		cfg.Snap.LockDurationMS = uint32(*o.LockDurationMS)
	}
	if o.LockForNextNEvents != nil {
		cfg.Snap.LockForNextNEvents = uint16(*o.LockForNextNEvents)
	}
	if o.IdleResetTimeoutMS != nil {
		cfg.Snap.IdleResetTimeoutMS = uint32(*o.IdleResetTimeoutMS)
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Watch != nil {
		cfg.Reload.Watch = *o.Watch
	}
}

// LoadConfig layers defaults, the optional file, the environment and flags,
// and validates the result.
func LoadConfig(path string, flags FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := flags.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.Output.Name == "" {
		return errors.New("output.name must not be empty")
	}
	if c.Output.UinputPath == "" {
		return errors.New("output.uinput_path must not be empty")
	}

	if _, err := c.ToSnapConfig(); err != nil {
		return fmt.Errorf("snap: %w", err)
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToSnapConfig converts the snap section into the engine config.
func (c *Config) ToSnapConfig() (snap.Config, error) {
	return c.Snap.ToConfig()
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, ExpandPath(part))
		}
	}
	return out
}
