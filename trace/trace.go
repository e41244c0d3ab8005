// Package trace loads recorded scroll sequences and replays them through a
// snap engine deterministically.
//
// A trace file looks like:
//
//	name: flick right
//	config:
//	  require_n_samples: 2
//	events:
//	  - {at_ms: 0, axis: x, value: 10}
//	  - {at_ms: 8, axis: x, value: 10}
//
// Config keys are the same as the daemon's snap section; omitted keys keep
// their defaults.
package trace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"scrollsnap/input"
	"scrollsnap/snap"
)

// ErrUnknownAxis is returned for events whose axis is not x, y or other.
var ErrUnknownAxis = errors.New("unknown axis")

// Axis names accepted in trace files.
const (
	AxisX     = "x"
	AxisY     = "y"
	AxisOther = "other"
)

// Event is one recorded input event.
type Event struct {
	AtMS  int64  `yaml:"at_ms"`
	Axis  string `yaml:"axis"`
	Value int32  `yaml:"value"`
}

// Trace is a named configuration plus the events to feed it.
type Trace struct {
	Name   string        `yaml:"name"`
	Config snap.Settings `yaml:"config"`
	Events []Event       `yaml:"events"`
}

// Step is the engine's answer to one trace event.
type Step struct {
	Event  Event
	Action snap.Action
	Value  int32
	Lock   snap.Direction // lock direction after the event
}

// Load reads and parses a trace file.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = path
	}
	return t, nil
}

// Parse decodes a trace. Unknown fields are rejected.
func Parse(r io.Reader) (*Trace, error) {
	t := &Trace{Config: snap.DefaultSettings()}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse trace: %w", err)
	}

	for i, ev := range t.Events {
		switch ev.Axis {
		case AxisX, AxisY, AxisOther:
		default:
			return nil, fmt.Errorf("event %d: %w %q", i, ErrUnknownAxis, ev.Axis)
		}
		if i > 0 && ev.AtMS < t.Events[i-1].AtMS {
			return nil, fmt.Errorf("event %d: at_ms %d goes back in time", i, ev.AtMS)
		}
	}
	return t, nil
}

// Replay runs the events through a fresh engine whose clock starts at 0.
func (t *Trace) Replay(logger *slog.Logger) ([]Step, error) {
	cfg, err := t.Config.ToConfig()
	if err != nil {
		return nil, err
	}
	e, err := snap.New(cfg, 0, logger)
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(t.Events))
	for _, ev := range t.Events {
		in, err := toSnapEvent(cfg, ev)
		if err != nil {
			return nil, err
		}
		res := e.HandleEvent(in, ev.AtMS)
		steps = append(steps, Step{
			Event:  ev,
			Action: res.Action,
			Value:  res.Value,
			Lock:   e.State().LockDirection,
		})
	}
	return steps, nil
}

func toSnapEvent(cfg snap.Config, ev Event) (snap.Event, error) {
	switch ev.Axis {
	case AxisX:
		return snap.Event{Type: cfg.EventType, Code: cfg.EventCodeX, Value: ev.Value}, nil
	case AxisY:
		return snap.Event{Type: cfg.EventType, Code: cfg.EventCodeY, Value: ev.Value}, nil
	case AxisOther:
		return snap.Event{Type: input.EV_KEY, Code: input.BTN_LEFT, Value: ev.Value}, nil
	default:
		return snap.Event{}, fmt.Errorf("%w %q", ErrUnknownAxis, ev.Axis)
	}
}
