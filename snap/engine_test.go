package snap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	codeX = relHWheel
	codeY = relWheel
)

func xEv(v int32) Event { return Event{Type: evRel, Code: codeX, Value: v} }
func yEv(v int32) Event { return Event{Type: evRel, Code: codeY, Value: v} }

// baseConfig has locking and idle reset disabled so tests opt into them.
func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.RequireNSamples = 2
	cfg.ImmediateSnapThreshold = 1500
	cfg.LockDurationMS = 0
	cfg.LockForNextNEvents = 0
	cfg.IdleResetTimeoutMS = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, 0, nil)
	require.NoError(t, err)
	return e
}

// windowSum recomputes the absolute sums from the resident samples.
func windowSum(e *Engine) (int64, int64) {
	var sx, sy int64
	for i := 0; i < e.sampleCount; i++ {
		sx += abs64(e.samples[i].dx)
		sy += abs64(e.samples[i].dy)
	}
	return sx, sy
}

func TestHandleEvent_NonMatchingEventsPassUntouched(t *testing.T) {
	e := newTestEngine(t, baseConfig())
	before := e.State()

	res := e.HandleEvent(Event{Type: 0x01, Code: codeX, Value: 7}, 10)
	assert.Equal(t, Result{Action: Pass, Value: 7}, res)

	res = e.HandleEvent(Event{Type: evRel, Code: 0x00, Value: -3}, 20)
	assert.Equal(t, Result{Action: Pass, Value: -3}, res)

	assert.Equal(t, before, e.State(), "non-matching events must not touch state")
}

func TestHandleEvent_SecondSampleSnapsToX(t *testing.T) {
	cfg := baseConfig()
	e := newTestEngine(t, cfg)

	res := e.HandleEvent(xEv(10), 1)
	assert.Equal(t, Result{Action: Suppress, Value: 0}, res)

	res = e.HandleEvent(xEv(10), 2)
	assert.Equal(t, Result{Action: Rewrite, Value: 20}, res)

	st := e.State()
	assert.Equal(t, int64(20), st.SumX)
	assert.Equal(t, int64(0), st.SumY)
	assert.Equal(t, int64(0), st.RemainderX, "emitted axis remainder is cleared")
	assert.Equal(t, int64(0), st.RemainderY)
}

func TestHandleEvent_BelowThresholdSuppressed(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 10
	cfg.ImmediateSnapThreshold = 1500
	e := newTestEngine(t, cfg)

	res := e.HandleEvent(xEv(5), 1)
	assert.Equal(t, Suppress, res.Action)
	assert.Equal(t, int32(0), res.Value)
	assert.Equal(t, int64(5), e.State().RemainderX, "suppressed motion stays owed")
}

func TestHandleEvent_ImmediateSnapWithOneSample(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 10
	cfg.ImmediateSnapThreshold = 30
	e := newTestEngine(t, cfg)

	res := e.HandleEvent(yEv(-31), 1)
	assert.Equal(t, Result{Action: Rewrite, Value: -31}, res)
}

func TestHandleEvent_ImmediateSnapAfterAccumulation(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 10
	cfg.ImmediateSnapThreshold = 30
	e := newTestEngine(t, cfg)

	assert.Equal(t, Suppress, e.HandleEvent(yEv(15), 1).Action)
	assert.Equal(t, Suppress, e.HandleEvent(yEv(15), 2).Action, "sum of 30 is not above the threshold")

	res := e.HandleEvent(yEv(1), 3)
	assert.Equal(t, Result{Action: Rewrite, Value: 31}, res)
}

func TestHandleEvent_ReadinessMixesAxes(t *testing.T) {
	// Large X noise lets a tiny Y event through early.
	cfg := baseConfig()
	cfg.RequireNSamples = 10
	cfg.ImmediateSnapThreshold = 30
	e := newTestEngine(t, cfg)

	e.HandleEvent(xEv(40), 1) // triggers on its own: rewrite X
	res := e.HandleEvent(yEv(1), 2)
	assert.Equal(t, Rewrite, res.Action)
	assert.Equal(t, int32(0), res.Value, "Y event projected to X decision emits zero")
}

func TestHandleEvent_SameSignSingleAxisSettles(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, MaxBufSize} {
		cfg := baseConfig()
		cfg.RequireNSamples = n
		e := newTestEngine(t, cfg)

		var emitted int32
		var fed int32
		for i := 0; i < 3*n+4; i++ {
			fed += 4
			res := e.HandleEvent(yEv(4), int64(i))
			if res.Action == Rewrite {
				emitted += res.Value
			}
			if i >= n-1 {
				assert.Equal(t, Rewrite, res.Action, "n=%d i=%d", n, i)
			}
		}
		assert.Equal(t, fed, emitted, "n=%d: all owed motion is eventually emitted", n)
		assert.Equal(t, int64(0), e.State().RemainderX)
		assert.Equal(t, int64(0), e.State().RemainderY)
	}
}

func TestHandleEvent_CircularGestureSnapsToDominantAxis(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 4
	e := newTestEngine(t, cfg)

	seq := []Event{yEv(10), xEv(2), yEv(9), xEv(-1), yEv(12), xEv(3), yEv(8)}
	var outX, outY int32
	for i, ev := range seq {
		res := e.HandleEvent(ev, int64(i))
		if res.Action != Rewrite {
			continue
		}
		if ev.Code == codeX {
			outX += res.Value
		} else {
			outY += res.Value
		}
	}
	assert.Equal(t, int32(0), outX, "minor axis is fully zeroed")
	assert.Equal(t, int32(39), outY)
}

func TestSampleSumMatchesWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{1, 3, 7, MaxBufSize} {
		cfg := baseConfig()
		cfg.RequireNSamples = n
		e := newTestEngine(t, cfg)

		for i := 0; i < 500; i++ {
			v := int32(rng.Intn(401) - 200)
			ev := xEv(v)
			if rng.Intn(2) == 0 {
				ev = yEv(v)
			}
			e.HandleEvent(ev, int64(i))

			sx, sy := windowSum(e)
			require.Equal(t, sx, e.sampleSum.dx, "n=%d step=%d", n, i)
			require.Equal(t, sy, e.sampleSum.dy, "n=%d step=%d", n, i)
			require.LessOrEqual(t, e.sampleCount, n)
		}
	}
}

func TestHandleEvent_IdleResetClearsState(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 3
	cfg.ImmediateSnapThreshold = 30
	cfg.IdleResetTimeoutMS = 100
	cfg.LockForNextNEvents = 5
	e := newTestEngine(t, cfg)

	e.HandleEvent(yEv(50), 10)
	e.HandleEvent(xEv(3), 20)
	require.Equal(t, DirectionY, e.State().LockDirection)

	// Gap of exactly the timeout resets before the new sample is counted.
	res := e.HandleEvent(xEv(7), 120)
	assert.Equal(t, Suppress, res.Action)

	st := e.State()
	assert.Equal(t, 1, st.SampleCount)
	assert.Equal(t, int64(7), st.SumX)
	assert.Equal(t, int64(0), st.SumY)
	assert.Equal(t, int64(7), st.RemainderX)
	assert.Equal(t, int64(0), st.RemainderY)
	assert.Equal(t, DirectionNone, st.LockDirection)
	assert.Equal(t, uint16(0), st.LockEventsRemaining)
	assert.Equal(t, int64(120), st.LastEventMS)
}

func TestHandleEvent_NoIdleResetBelowTimeout(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 3
	cfg.IdleResetTimeoutMS = 100
	e := newTestEngine(t, cfg)

	e.HandleEvent(xEv(7), 10)
	e.HandleEvent(xEv(7), 109)
	assert.Equal(t, 2, e.State().SampleCount)
}

func TestHandleEvent_CountLockDecaysAndRefreshes(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 1
	cfg.LockForNextNEvents = 3
	e := newTestEngine(t, cfg)

	// Decision: Y, lock for 3 events.
	res := e.HandleEvent(yEv(10), 1)
	require.Equal(t, Result{Action: Rewrite, Value: 10}, res)
	require.Equal(t, DirectionY, e.State().LockDirection)
	require.Equal(t, uint16(3), e.State().LockEventsRemaining)

	// X detections do not match the lock: count decays, output stays on Y.
	res = e.HandleEvent(xEv(10), 2)
	assert.Equal(t, Result{Action: Rewrite, Value: 0}, res)
	assert.Equal(t, uint16(2), e.State().LockEventsRemaining)

	// A matching detection refreshes the count.
	e.HandleEvent(yEv(10), 3)
	assert.Equal(t, uint16(3), e.State().LockEventsRemaining)
	assert.Equal(t, DirectionY, e.State().LockDirection)

	e.HandleEvent(xEv(10), 4)
	e.HandleEvent(xEv(10), 5)
	assert.Equal(t, uint16(1), e.State().LockEventsRemaining)
	assert.Equal(t, DirectionY, e.State().LockDirection)

	res = e.HandleEvent(xEv(10), 6)
	assert.Equal(t, int32(0), res.Value, "third event is still decided by the lock")
	assert.Equal(t, uint16(0), e.State().LockEventsRemaining)
	assert.Equal(t, DirectionNone, e.State().LockDirection, "lock cleared on the third decay")

	// Free again: X is now honoured and starts a new lock.
	res = e.HandleEvent(xEv(10), 7)
	assert.Equal(t, Result{Action: Rewrite, Value: 10}, res)
	assert.Equal(t, DirectionX, e.State().LockDirection)
}

func TestHandleEvent_TimeLockHoldsThenExpires(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 1
	cfg.LockDurationMS = 50
	e := newTestEngine(t, cfg)

	e.HandleEvent(yEv(10), 100)
	st := e.State()
	require.Equal(t, DirectionY, st.LockDirection)
	require.Equal(t, int64(150), st.LockExpiresAtMS)

	// Inside the lock window X motion is swallowed and does not refresh.
	res := e.HandleEvent(xEv(20), 120)
	assert.Equal(t, Result{Action: Rewrite, Value: 0}, res)
	assert.Equal(t, int64(150), e.State().LockExpiresAtMS)

	// At expiry the lock is cleared before deciding.
	res = e.HandleEvent(xEv(20), 150)
	assert.Equal(t, Result{Action: Rewrite, Value: 20}, res)
	st = e.State()
	assert.Equal(t, DirectionX, st.LockDirection)
	assert.Equal(t, int64(200), st.LockExpiresAtMS)
}

func TestHandleEvent_TimeLockRefreshOnMatch(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 1
	cfg.LockDurationMS = 50
	e := newTestEngine(t, cfg)

	e.HandleEvent(yEv(10), 100)
	e.HandleEvent(yEv(10), 140)
	assert.Equal(t, int64(190), e.State().LockExpiresAtMS)
}

func TestHandleEvent_BothLocksCoexist(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 1
	cfg.LockDurationMS = 50
	cfg.LockForNextNEvents = 2
	e := newTestEngine(t, cfg)

	e.HandleEvent(yEv(10), 100)
	st := e.State()
	assert.Equal(t, DirectionY, st.LockDirection)
	assert.Equal(t, int64(150), st.LockExpiresAtMS)
	assert.Equal(t, uint16(2), st.LockEventsRemaining)

	// No count decay when a time lock is configured.
	e.HandleEvent(xEv(10), 110)
	assert.Equal(t, uint16(2), e.State().LockEventsRemaining)

	// Time expiry clears both.
	e.HandleEvent(xEv(10), 160)
	st = e.State()
	assert.Equal(t, DirectionX, st.LockDirection)
	assert.Equal(t, uint16(2), st.LockEventsRemaining)
}

func TestHandleEvent_DiagonalEmitsNothing(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireNSamples = 2
	cfg.XThreshold = Ratio{Num: 1, Den: 4}
	cfg.YThreshold = Ratio{Num: 4, Den: 1}
	cfg.XYThreshold = Ratio{Num: 1, Den: 2}
	e := newTestEngine(t, cfg)

	e.HandleEvent(xEv(10), 1)
	res := e.HandleEvent(yEv(10), 2)
	assert.Equal(t, Result{Action: Rewrite, Value: 0}, res)
	assert.Equal(t, int64(10), e.State().RemainderX, "diagonal keeps the other axis owed")
	assert.Equal(t, int64(0), e.State().RemainderY)
}

func TestDetect(t *testing.T) {
	cfg := baseConfig()
	cfg.XThreshold = Ratio{Num: 1, Den: 4}
	cfg.YThreshold = Ratio{Num: 4, Den: 1}
	cfg.XYThreshold = Ratio{Num: 1, Den: 2}

	tests := []struct {
		name       string
		absX, absY int64
		remX, remY int64
		want       Direction
	}{
		{"pure y", 0, 10, 0, 10, DirectionY},
		{"pure x", 10, 0, 10, 0, DirectionX},
		{"y dominant", 1, 5, 1, 5, DirectionY},
		{"x dominant", 5, 1, 5, 1, DirectionX},
		{"diag plus", 10, 10, 10, 10, DirectionDiagPlus},
		{"diag minus", 10, 10, -10, 10, DirectionDiagMinus},
		{"diag both negative", 10, 10, -10, -10, DirectionDiagPlus},
		{"between bands", 10, 3, 10, 3, DirectionNone},
		{"empty", 0, 0, 0, 0, DirectionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, cfg)
			e.remainder = vec{dx: tt.remX, dy: tt.remY}
			assert.Equal(t, tt.want, e.detect(tt.absX, tt.absY))
		})
	}
}

func TestDetect_LargeSumsDoNotOverflow(t *testing.T) {
	cfg := baseConfig()
	cfg.YThreshold = Ratio{Num: 1 << 31, Den: 1 << 31}
	e := newTestEngine(t, cfg)

	assert.Equal(t, DirectionY, e.detect(1<<34, 1<<34+1))
}

func TestHandleEvent_WithoutLockingStateStaysClear(t *testing.T) {
	e := newTestEngine(t, baseConfig())
	for i := 0; i < 10; i++ {
		e.HandleEvent(yEv(10), int64(i))
		st := e.State()
		assert.Equal(t, DirectionNone, st.LockDirection)
		assert.Equal(t, int64(0), st.LockExpiresAtMS)
	}
}

func TestReset(t *testing.T) {
	cfg := baseConfig()
	cfg.LockDurationMS = 100
	e := newTestEngine(t, cfg)
	e.HandleEvent(yEv(10), 1)
	e.HandleEvent(yEv(10), 2)

	e.Reset(50)
	assert.Equal(t, State{LastEventMS: 50}, e.State())
	for _, s := range e.samples {
		assert.Equal(t, sample{}, s)
	}
}

func TestMulCmp(t *testing.T) {
	assert.Equal(t, 0, mulCmp(3, 4, 2, 6))
	assert.Equal(t, -1, mulCmp(3, 4, 2, 7))
	assert.Equal(t, 1, mulCmp(1<<40, 1<<40, 1<<63, 2))
}

func TestSaturate32(t *testing.T) {
	assert.Equal(t, int32(5), saturate32(5))
	assert.Equal(t, int32(2147483647), saturate32(1<<40))
	assert.Equal(t, int32(-2147483648), saturate32(-(1 << 40)))
}
