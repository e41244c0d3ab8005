package snap

import (
	"errors"
	"fmt"
)

// MaxBufSize is the capacity of the sample ring buffer. RequireNSamples is
// clamped into [1, MaxBufSize].
const MaxBufSize = 16

// Linux input event selectors used by DefaultConfig (from <linux/input-event-codes.h>).
const (
	evRel     = 0x02
	relHWheel = 0x06
	relWheel  = 0x08
)

// ErrInvalidConfig is returned by Validate (and New) for configurations the
// engine cannot run with.
var ErrInvalidConfig = errors.New("invalid snap config")

// Ratio is an integer threshold compared by cross-multiplication.
type Ratio struct {
	Num uint32
	Den uint32
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Config contains all tunable parameters of the snap engine.
//
// A Config is immutable once handed to New. Build it with DefaultConfig and
// override fields, then call Normalize.
type Config struct {
	// Direction thresholds on |y/x|
	XThreshold  Ratio // below: X motion
	YThreshold  Ratio // above: Y motion
	XYThreshold Ratio // inside the band: diagonal (reserved, emits nothing)

	// Evidence
	RequireNSamples        int    // samples to accumulate before committing
	ImmediateSnapThreshold uint32 // windowed sum that forces an early decision

	// Locking (0 disables each mechanism)
	LockDurationMS     uint32
	LockForNextNEvents uint16

	// Robustness
	IdleResetTimeoutMS uint32 // discard all state after this much inactivity; 0 disables

	// Axis selectors
	EventType  uint16
	EventCodeX uint16
	EventCodeY uint16
}

// DefaultConfig returns a fully-populated Config with stock tuning for a
// scroll wheel reporting REL_HWHEEL / REL_WHEEL.
func DefaultConfig() Config {
	return Config{
		XThreshold:             Ratio{Num: 5, Den: 8},
		YThreshold:             Ratio{Num: 8, Den: 5},
		XYThreshold:            Ratio{Num: 1, Den: 1},
		RequireNSamples:        3,
		ImmediateSnapThreshold: 30,
		LockDurationMS:         200,
		LockForNextNEvents:     0,
		IdleResetTimeoutMS:     500,
		EventType:              evRel,
		EventCodeX:             relHWheel,
		EventCodeY:             relWheel,
	}
}

// Normalize clamps RequireNSamples into [1, MaxBufSize].
func (c *Config) Normalize() {
	if c.RequireNSamples < 1 {
		c.RequireNSamples = 1
	}
	if c.RequireNSamples > MaxBufSize {
		c.RequireNSamples = MaxBufSize
	}
}

// Validate checks config invariants. It does not clamp; call Normalize first
// if the values come from user input.
func (c *Config) Validate() error {
	if c.RequireNSamples < 1 || c.RequireNSamples > MaxBufSize {
		return fmt.Errorf("%w: require_n_samples must be between 1 and %d, got %d", ErrInvalidConfig, MaxBufSize, c.RequireNSamples)
	}
	for _, t := range []struct {
		name string
		r    Ratio
	}{
		{"x_threshold", c.XThreshold},
		{"y_threshold", c.YThreshold},
		{"xy_threshold", c.XYThreshold},
	} {
		if t.r.Den == 0 {
			return fmt.Errorf("%w: %s denominator must be > 0", ErrInvalidConfig, t.name)
		}
	}
	if c.EventCodeX == c.EventCodeY {
		return fmt.Errorf("%w: event_code_x and event_code_y must differ", ErrInvalidConfig)
	}
	return nil
}

// lockingEnabled reports whether any lock mechanism is configured.
func (c *Config) lockingEnabled() bool {
	return c.LockDurationMS > 0 || c.LockForNextNEvents > 0
}
