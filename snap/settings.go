package snap

import (
	"fmt"
)

// Settings is the file/environment representation of a Config. Thresholds are
// written as [numerator, denominator] pairs, e.g. x_threshold: [5, 8].
type Settings struct {
	XThreshold             []uint32 `yaml:"x_threshold" toml:"x_threshold" env:"X_THRESHOLD"`
	YThreshold             []uint32 `yaml:"y_threshold" toml:"y_threshold" env:"Y_THRESHOLD"`
	XYThreshold            []uint32 `yaml:"xy_threshold" toml:"xy_threshold" env:"XY_THRESHOLD"`
	RequireNSamples        int      `yaml:"require_n_samples" toml:"require_n_samples" env:"REQUIRE_N_SAMPLES"`
	ImmediateSnapThreshold uint32   `yaml:"immediate_snap_threshold" toml:"immediate_snap_threshold" env:"IMMEDIATE_SNAP_THRESHOLD"`
	LockDurationMS         uint32   `yaml:"lock_duration_ms" toml:"lock_duration_ms" env:"LOCK_DURATION_MS"`
	LockForNextNEvents     uint16   `yaml:"lock_for_next_n_events" toml:"lock_for_next_n_events" env:"LOCK_FOR_NEXT_N_EVENTS"`
	IdleResetTimeoutMS     uint32   `yaml:"idle_reset_timeout_ms" toml:"idle_reset_timeout_ms" env:"IDLE_RESET_TIMEOUT_MS"`
	EventType              uint16   `yaml:"event_type" toml:"event_type" env:"EVENT_TYPE"`
	EventCodeX             uint16   `yaml:"event_code_x" toml:"event_code_x" env:"EVENT_CODE_X"`
	EventCodeY             uint16   `yaml:"event_code_y" toml:"event_code_y" env:"EVENT_CODE_Y"`
}

// DefaultSettings mirrors DefaultConfig.
func DefaultSettings() Settings {
	c := DefaultConfig()
	return Settings{
		XThreshold:             []uint32{c.XThreshold.Num, c.XThreshold.Den},
		YThreshold:             []uint32{c.YThreshold.Num, c.YThreshold.Den},
		XYThreshold:            []uint32{c.XYThreshold.Num, c.XYThreshold.Den},
		RequireNSamples:        c.RequireNSamples,
		ImmediateSnapThreshold: c.ImmediateSnapThreshold,
		LockDurationMS:         c.LockDurationMS,
		LockForNextNEvents:     c.LockForNextNEvents,
		IdleResetTimeoutMS:     c.IdleResetTimeoutMS,
		EventType:              c.EventType,
		EventCodeX:             c.EventCodeX,
		EventCodeY:             c.EventCodeY,
	}
}

// ToConfig converts s into a normalized, validated Config.
func (s Settings) ToConfig() (Config, error) {
	var cfg Config
	var err error
	if cfg.XThreshold, err = ratioFrom("x_threshold", s.XThreshold); err != nil {
		return Config{}, err
	}
	if cfg.YThreshold, err = ratioFrom("y_threshold", s.YThreshold); err != nil {
		return Config{}, err
	}
	if cfg.XYThreshold, err = ratioFrom("xy_threshold", s.XYThreshold); err != nil {
		return Config{}, err
	}
	cfg.RequireNSamples = s.RequireNSamples
	cfg.ImmediateSnapThreshold = s.ImmediateSnapThreshold
	cfg.LockDurationMS = s.LockDurationMS
	cfg.LockForNextNEvents = s.LockForNextNEvents
	cfg.IdleResetTimeoutMS = s.IdleResetTimeoutMS
	cfg.EventType = s.EventType
	cfg.EventCodeX = s.EventCodeX
	cfg.EventCodeY = s.EventCodeY

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ratioFrom(name string, pair []uint32) (Ratio, error) {
	if len(pair) != 2 {
		return Ratio{}, fmt.Errorf("%w: %s must be [numerator, denominator], got %v", ErrInvalidConfig, name, pair)
	}
	return Ratio{Num: pair[0], Den: pair[1]}, nil
}
