package snap

import (
	"io"
	"log/slog"
	"math"
	"math/bits"
)

// Direction is the axis (or diagonal) motion is snapped to.
type Direction uint8

const (
	DirectionNone Direction = iota
	DirectionX
	DirectionY
	// Diagonal directions are detected but not emitted yet: a decision for
	// either of them projects to zero motion on both axes.
	DirectionDiagPlus
	DirectionDiagMinus
)

func (d Direction) String() string {
	switch d {
	case DirectionX:
		return "x"
	case DirectionY:
		return "y"
	case DirectionDiagPlus:
		return "diag+"
	case DirectionDiagMinus:
		return "diag-"
	default:
		return "none"
	}
}

// Action tells the caller what to do with the event it handed in.
type Action uint8

const (
	Pass     Action = iota // forward unchanged
	Suppress               // drop, do not flush downstream
	Rewrite                // forward with Result.Value as the new magnitude
)

func (a Action) String() string {
	switch a {
	case Suppress:
		return "suppress"
	case Rewrite:
		return "rewrite"
	default:
		return "pass"
	}
}

// Event is the part of an input event the engine looks at.
type Event struct {
	Type  uint16
	Code  uint16
	Value int32
}

// Result is the outcome of HandleEvent. Value is the magnitude to forward:
// the original value for Pass, 0 for Suppress, the projected value for Rewrite.
type Result struct {
	Action Action
	Value  int32
}

// sample is one raw (dx, dy) entry of the ring buffer.
type sample struct {
	dx int32
	dy int32
}

// vec is a per-axis accumulator wide enough to never overflow.
type vec struct {
	dx int64
	dy int64
}

// State is a read-only snapshot of the engine's runtime state.
type State struct {
	SampleCount         int
	SumX                int64
	SumY                int64
	RemainderX          int64
	RemainderY          int64
	LastEventMS         int64
	LockDirection       Direction
	LockExpiresAtMS     int64 // 0 when unset
	LockEventsRemaining uint16
}

// Engine turns two-axis scroll motion into single-axis motion.
//
// An Engine is owned by a single event path: HandleEvent must not be called
// concurrently. Independent engines share nothing.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	// Sample window
	head        int
	samples     [MaxBufSize]sample
	sampleCount int
	sampleSum   vec // absolute magnitudes of the samples currently in the window

	// Motion owed to the output once a direction is committed
	remainder vec

	lastEventMS int64

	// Lock
	lockDirection       Direction
	lockExpiresAtMS     int64
	lockEventsRemaining uint16
}

// New validates cfg and returns an engine whose idle timer starts at nowMS.
// A nil logger discards debug output.
func New(cfg Config, nowMS int64, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{cfg: cfg, logger: logger}
	e.Reset(nowMS)
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Reset discards all accumulated samples, remainders and locks, exactly like an
// idle timeout does.
func (e *Engine) Reset(nowMS int64) {
	n := e.cfg.RequireNSamples
	clear(e.samples[:n])
	e.head = 0
	e.sampleCount = 0
	e.sampleSum = vec{}
	e.remainder = vec{}
	e.lastEventMS = nowMS
	e.clearLock()
}

// State returns a snapshot of the runtime state.
func (e *Engine) State() State {
	return State{
		SampleCount:         e.sampleCount,
		SumX:                e.sampleSum.dx,
		SumY:                e.sampleSum.dy,
		RemainderX:          e.remainder.dx,
		RemainderY:          e.remainder.dy,
		LastEventMS:         e.lastEventMS,
		LockDirection:       e.lockDirection,
		LockExpiresAtMS:     e.lockExpiresAtMS,
		LockEventsRemaining: e.lockEventsRemaining,
	}
}

// HandleEvent processes one event observed at nowMS (monotonic milliseconds).
//
// Events that do not match the configured type and X/Y codes pass through
// without touching any state.
func (e *Engine) HandleEvent(ev Event, nowMS int64) Result {
	if ev.Type != e.cfg.EventType {
		return Result{Action: Pass, Value: ev.Value}
	}
	isX := ev.Code == e.cfg.EventCodeX
	isY := ev.Code == e.cfg.EventCodeY
	if !isX && !isY {
		return Result{Action: Pass, Value: ev.Value}
	}

	if e.cfg.IdleResetTimeoutMS > 0 && nowMS-e.lastEventMS >= int64(e.cfg.IdleResetTimeoutMS) {
		e.logger.Debug("scroll snap idle reset", "idle_ms", nowMS-e.lastEventMS)
		e.Reset(nowMS)
	}
	e.lastEventMS = nowMS

	if e.lockDirection != DirectionNone && e.cfg.LockDurationMS > 0 && e.lockExpiresAtMS > 0 && nowMS >= e.lockExpiresAtMS {
		e.clearLock()
	}

	incoming := sample{}
	if isX {
		incoming.dx = ev.Value
	} else {
		incoming.dy = ev.Value
	}
	e.push(incoming)

	absX, absY := e.sampleSum.dx, e.sampleSum.dy

	// NOTE: the window sums mix samples from both axes, so noise on one axis
	// can trigger an early snap while the event belongs to the other.
	if e.sampleCount < e.cfg.RequireNSamples && absX <= int64(e.cfg.ImmediateSnapThreshold) && absY <= int64(e.cfg.ImmediateSnapThreshold) {
		return Result{Action: Suppress, Value: 0}
	}

	detected := e.detect(absX, absY)

	lockActive := e.lockActive(nowMS)
	decided := detected
	if lockActive {
		decided = e.lockDirection
	}

	newX, newY := e.project(decided)

	var out int64
	if isY {
		out = newY
		e.remainder.dy = 0
	} else {
		out = newX
		e.remainder.dx = 0
	}

	e.maintainLock(lockActive, detected, decided, nowMS)

	return Result{Action: Rewrite, Value: saturate32(out)}
}

// push writes s into the ring, evicting the oldest sample once the window is full.
func (e *Engine) push(s sample) {
	n := e.cfg.RequireNSamples
	if e.sampleCount >= n {
		old := e.samples[e.head]
		e.sampleSum.dx -= abs64(old.dx)
		e.sampleSum.dy -= abs64(old.dy)
	}

	e.samples[e.head] = s
	e.sampleSum.dx += abs64(s.dx)
	e.sampleSum.dy += abs64(s.dy)
	e.remainder.dx += int64(s.dx)
	e.remainder.dy += int64(s.dy)
	if e.sampleCount < n {
		e.sampleCount++
	}
	e.head = (e.head + 1) % n
}

// detect classifies the window. Branch order matters: first match wins.
func (e *Engine) detect(absX, absY int64) Direction {
	x, y := uint64(absX), uint64(absY)
	xt, yt, xyt := e.cfg.XThreshold, e.cfg.YThreshold, e.cfg.XYThreshold

	switch {
	case mulCmp(y, uint64(yt.Den), x, uint64(yt.Num)) > 0:
		return DirectionY
	case mulCmp(y, uint64(xt.Den), x, uint64(xt.Num)) < 0:
		return DirectionX
	case mulCmp(x, uint64(xyt.Num), y, uint64(xyt.Den)) < 0 && mulCmp(y, uint64(xyt.Num), x, uint64(xyt.Den)) < 0:
		if (e.remainder.dx > 0) == (e.remainder.dy > 0) {
			return DirectionDiagPlus
		}
		return DirectionDiagMinus
	default:
		return DirectionNone
	}
}

func (e *Engine) lockActive(nowMS int64) bool {
	timed := e.cfg.LockDurationMS > 0 && e.lockDirection != DirectionNone && e.lockExpiresAtMS > nowMS
	return timed || e.lockEventsRemaining > 0
}

// project returns the per-axis output for a decision and drops the remainder
// of the suppressed axis.
func (e *Engine) project(d Direction) (x, y int64) {
	switch d {
	case DirectionX:
		e.logger.Debug("snapping to X axis", "remainder", e.remainder.dx)
		e.remainder.dy = 0
		return e.remainder.dx, 0
	case DirectionY:
		e.logger.Debug("snapping to Y axis", "remainder", e.remainder.dy)
		e.remainder.dx = 0
		return 0, e.remainder.dy
	case DirectionDiagPlus, DirectionDiagMinus:
		// TODO: emit diagonal motion (both axes, scaled to the dominant one)
		// instead of dropping it.
		e.logger.Debug("diagonal snapping not implemented, dropping motion", "direction", d)
		return 0, 0
	default:
		return 0, 0
	}
}

func (e *Engine) maintainLock(wasActive bool, detected, decided Direction, nowMS int64) {
	cfg := &e.cfg
	switch {
	case !cfg.lockingEnabled():
		e.clearLock()

	case wasActive:
		if detected != DirectionNone && detected == e.lockDirection {
			if cfg.LockDurationMS > 0 {
				e.lockExpiresAtMS = nowMS + int64(cfg.LockDurationMS)
			}
			if cfg.LockForNextNEvents > 0 {
				e.lockEventsRemaining = cfg.LockForNextNEvents
			}
			return
		}
		// Count-based decay only applies when no time lock is configured.
		if cfg.LockDurationMS == 0 && cfg.LockForNextNEvents > 0 && e.lockEventsRemaining > 0 {
			e.lockEventsRemaining--
			if e.lockEventsRemaining == 0 {
				e.lockDirection = DirectionNone
			}
		}

	case decided != DirectionNone:
		if cfg.LockDurationMS > 0 {
			e.lockDirection = decided
			e.lockExpiresAtMS = nowMS + int64(cfg.LockDurationMS)
			e.lockEventsRemaining = 0
		}
		if cfg.LockForNextNEvents > 0 {
			e.lockDirection = decided
			e.lockEventsRemaining = cfg.LockForNextNEvents
		}
		e.logger.Debug("scroll snap lock started", "direction", decided)
	}
}

func (e *Engine) clearLock() {
	e.lockDirection = DirectionNone
	e.lockExpiresAtMS = 0
	e.lockEventsRemaining = 0
}

// mulCmp compares a*b with c*d without overflow.
func mulCmp(a, b, c, d uint64) int {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)
	switch {
	case hi1 != hi2:
		if hi1 < hi2 {
			return -1
		}
		return 1
	case lo1 < lo2:
		return -1
	case lo1 > lo2:
		return 1
	default:
		return 0
	}
}

func abs64(v int32) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}

func saturate32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
