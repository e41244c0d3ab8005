package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scrollsnap/input"
	"scrollsnap/pipeline"
	"scrollsnap/snap"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// One goroutine owns every device's processing chain and snap engine:
//   - Device events arrive on a channel from the reader goroutine, tagged with
//     the index of their device. Each device has its own frame, chain and
//     engine, so one device's lock never bends another device's scrolling.
//   - IPC / HTTP / reload requests are serialized into the same loop, so the
//     engine is never touched concurrently and needs no locks.
//   - Lock-direction changes and counters are published to the WS broadcaster
//     without ever blocking the input path.
//
// ============================================================================

// statsInterval is how often changed counters are published.
const statsInterval = 250 * time.Millisecond

// daemonRequest is a message handled inside the daemon loop.
type daemonRequest interface {
	isDaemonRequest()
}

// resetRequest clears all engine state, like an idle timeout.
type resetRequest struct {
	Reply chan<- struct{}
}

// statusRequest asks for a Status snapshot.
type statusRequest struct {
	Reply chan<- Status
}

// reloadRequest swaps in a new engine built from an already validated config.
type reloadRequest struct {
	Config snap.Config
}

func (resetRequest) isDaemonRequest()  {}
func (statusRequest) isDaemonRequest() {}
func (reloadRequest) isDaemonRequest() {}

// Status is the externally visible daemon state (IPC status, /api/status,
// state_init).
type Status struct {
	Version       string         `json:"version"`
	Devices       []string       `json:"devices"`
	UptimeMS      int64          `json:"uptime_ms"`
	Config        statusConfig   `json:"config"`
	Engines       []engineState  `json:"engines"` // one per device, in config order
	Stats         pipeline.Stats `json:"stats"`
	FramesWritten uint64         `json:"frames_written"`
	Reloads       uint64         `json:"reloads"`
}

type statusConfig struct {
	XThreshold             string `json:"x_threshold"`
	YThreshold             string `json:"y_threshold"`
	XYThreshold            string `json:"xy_threshold"`
	RequireNSamples        int    `json:"require_n_samples"`
	ImmediateSnapThreshold uint32 `json:"immediate_snap_threshold"`
	LockDurationMS         uint32 `json:"lock_duration_ms"`
	LockForNextNEvents     uint16 `json:"lock_for_next_n_events"`
	IdleResetTimeoutMS     uint32 `json:"idle_reset_timeout_ms"`
}

type engineState struct {
	Device              string `json:"device"`
	SampleCount         int    `json:"sample_count"`
	SumX                int64  `json:"sum_x"`
	SumY                int64  `json:"sum_y"`
	RemainderX          int64  `json:"remainder_x"`
	RemainderY          int64  `json:"remainder_y"`
	LockDirection       string `json:"lock_direction"`
	LockExpiresAtMS     int64  `json:"lock_expires_at_ms,omitempty"`
	LockEventsRemaining uint16 `json:"lock_events_remaining,omitempty"`
}

// frameCounter counts frames that reached the output device.
type frameCounter struct {
	w      pipeline.Writer
	frames uint64
}

func (c *frameCounter) Write(events ...input.Event) error {
	if err := c.w.Write(events...); err != nil {
		return err
	}
	c.frames++
	return nil
}

// listener is the per-device half of the daemon: its own SYN frame, chain
// and snap engine.
type listener struct {
	device   string
	snapProc *pipeline.SnapProcessor
	router   *pipeline.Router
	lastLock snap.Direction
}

type daemon struct {
	logger  *slog.Logger
	clock   snap.Clock
	devices []string

	listeners []*listener
	out       *frameCounter

	// Optional; nil disables publishing.
	broadcasts chan<- stateBroadcast

	lastStats  pipeline.Stats
	lastFrames uint64
	startedMS  int64
	reloads    uint64
}

// newDaemon builds one processing chain per input device, all writing to out.
func newDaemon(cfg Config, out pipeline.Writer, clock snap.Clock, broadcasts chan<- stateBroadcast, logger *slog.Logger) (*daemon, error) {
	snapCfg, err := cfg.ToSnapConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Input.Devices) == 0 {
		return nil, errors.New("no input devices configured")
	}
	now := clock.NowMS()

	d := &daemon{
		logger:     logger,
		clock:      clock,
		devices:    cfg.Input.Devices,
		out:        &frameCounter{w: out},
		broadcasts: broadcasts,
		startedMS:  now,
	}

	for _, dev := range cfg.Input.Devices {
		engine, err := snap.New(snapCfg, now, logger.With("device", dev))
		if err != nil {
			return nil, err
		}
		l := &listener{device: dev, snapProc: pipeline.NewSnapProcessor(engine)}

		var procs []pipeline.Processor
		if cfg.Input.DropHiRes {
			procs = append(procs, pipeline.DropCodes(input.EV_REL, input.REL_WHEEL_HI_RES, input.REL_HWHEEL_HI_RES))
		}
		procs = append(procs, l.snapProc)
		l.router = pipeline.NewRouter(pipeline.NewChain(procs...), d.out)

		d.listeners = append(d.listeners, l)
	}

	return d, nil
}

// run is the main daemon loop.
//
// Shutdown semantics:
//   - Returns nil when ctx is canceled or the events channel is closed
//   - Returns an error when a reader fails or the output device rejects a write
func (d *daemon) run(ctx context.Context, events <-chan input.DeviceEvent, readErr <-chan error, requests <-chan daemonRequest) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case ev, ok := <-events:
			if !ok {
				d.logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			if err := d.handleInput(ev); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

		case req := <-requests:
			d.handleRequest(req)

		case <-ticker.C:
			d.publishStats()
		}
	}
}

func (d *daemon) handleInput(ev input.DeviceEvent) error {
	if ev.Device < 0 || ev.Device >= len(d.listeners) {
		d.logger.Warn("event from unknown device dropped", "device", ev.Device)
		return nil
	}
	l := d.listeners[ev.Device]
	if err := l.router.Handle(ev.Event, d.clock.NowMS()); err != nil {
		return err
	}
	d.publishLock(l)
	return nil
}

func (d *daemon) handleRequest(req daemonRequest) {
	switch r := req.(type) {
	case resetRequest:
		now := d.clock.NowMS()
		for _, l := range d.listeners {
			l.snapProc.Engine().Reset(now)
			d.publishLock(l)
		}
		d.logger.Info("engine state reset", "engines", len(d.listeners))
		if r.Reply != nil {
			r.Reply <- struct{}{}
		}

	case statusRequest:
		if r.Reply != nil {
			r.Reply <- d.status()
		}

	case reloadRequest:
		now := d.clock.NowMS()
		engines := make([]*snap.Engine, len(d.listeners))
		for i, l := range d.listeners {
			engine, err := snap.New(r.Config, now, d.logger.With("device", l.device))
			if err != nil {
				d.logger.Error("reload rejected", "error", err)
				return
			}
			engines[i] = engine
		}
		for i, l := range d.listeners {
			l.snapProc.Swap(engines[i])
		}
		d.reloads++
		d.logger.Info("snap config reloaded",
			"require_n_samples", r.Config.RequireNSamples,
			"lock_duration_ms", r.Config.LockDurationMS,
			"lock_for_next_n_events", r.Config.LockForNextNEvents)
		for _, l := range d.listeners {
			d.publishLock(l)
		}

	default:
		d.logger.Warn("unknown daemon request", "type", fmt.Sprintf("%T", req))
	}
}

func (d *daemon) status() Status {
	// Every engine runs the same config.
	cfg := d.listeners[0].snapProc.Engine().Config()

	engines := make([]engineState, 0, len(d.listeners))
	for _, l := range d.listeners {
		st := l.snapProc.Engine().State()
		engines = append(engines, engineState{
			Device:              l.device,
			SampleCount:         st.SampleCount,
			SumX:                st.SumX,
			SumY:                st.SumY,
			RemainderX:          st.RemainderX,
			RemainderY:          st.RemainderY,
			LockDirection:       st.LockDirection.String(),
			LockExpiresAtMS:     st.LockExpiresAtMS,
			LockEventsRemaining: st.LockEventsRemaining,
		})
	}

	return Status{
		Version:  version,
		Devices:  d.devices,
		UptimeMS: d.clock.NowMS() - d.startedMS,
		Config: statusConfig{
			XThreshold:             cfg.XThreshold.String(),
			YThreshold:             cfg.YThreshold.String(),
			XYThreshold:            cfg.XYThreshold.String(),
			RequireNSamples:        cfg.RequireNSamples,
			ImmediateSnapThreshold: cfg.ImmediateSnapThreshold,
			LockDurationMS:         cfg.LockDurationMS,
			LockForNextNEvents:     cfg.LockForNextNEvents,
			IdleResetTimeoutMS:     cfg.IdleResetTimeoutMS,
		},
		Engines:       engines,
		Stats:         d.stats(),
		FramesWritten: d.out.frames,
		Reloads:       d.reloads,
	}
}

// stats sums the counters of every device.
func (d *daemon) stats() pipeline.Stats {
	var total pipeline.Stats
	for _, l := range d.listeners {
		s := l.snapProc.Stats()
		total.Passed += s.Passed
		total.Rewritten += s.Rewritten
		total.Suppressed += s.Suppressed
	}
	return total
}

// publishLock emits lock_changed when l's lock direction moved.
// Time locks are cleared lazily by the engine, so an expiry is reported on
// the next scroll event rather than at the deadline.
func (d *daemon) publishLock(l *listener) {
	lock := l.snapProc.Engine().State().LockDirection
	if lock == l.lastLock {
		return
	}
	d.logger.Debug("lock direction changed", "device", l.device, "from", l.lastLock, "to", lock)
	l.lastLock = lock
	d.publish(broadcastLockChanged{Device: l.device, Direction: lock, At: time.Now().UTC()})
}

func (d *daemon) publishStats() {
	stats := d.stats()
	if stats == d.lastStats && d.out.frames == d.lastFrames {
		return
	}
	d.lastStats = stats
	d.lastFrames = d.out.frames
	d.publish(broadcastStats{Stats: stats, FramesWritten: d.out.frames, At: time.Now().UTC()})
}

// publish never blocks: the input path has priority over observers.
func (d *daemon) publish(b stateBroadcast) {
	if d.broadcasts == nil {
		return
	}
	select {
	case d.broadcasts <- b:
	default:
		d.logger.Debug("broadcast queue full, dropping", "type", fmt.Sprintf("%T", b))
	}
}

// ============================================================================
// Request helpers (used by IPC and HTTP handlers)
// ============================================================================

// requestStatus round-trips a statusRequest through the daemon loop.
func requestStatus(ctx context.Context, requests chan<- daemonRequest) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case requests <- statusRequest{Reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// requestReset round-trips a resetRequest through the daemon loop.
func requestReset(ctx context.Context, requests chan<- daemonRequest) error {
	reply := make(chan struct{}, 1)
	select {
	case requests <- resetRequest{Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
