// Package pipeline runs input events through an ordered chain of processors
// and reassembles the surviving events into SYN_REPORT frames.
package pipeline

import (
	"scrollsnap/input"
	"scrollsnap/snap"
)

// Verdict is a processor's decision for one event.
type Verdict uint8

const (
	Continue Verdict = iota // hand the (possibly modified) event to the next stage
	Stop                    // drop the event; it is never flushed downstream
)

// Processor transforms a single event in place.
type Processor interface {
	Process(ev *input.Event, nowMS int64) Verdict
}

// ProcessorFunc adapts a function literal to the Processor interface.
type ProcessorFunc func(ev *input.Event, nowMS int64) Verdict

// Process calls the underlying function.
func (f ProcessorFunc) Process(ev *input.Event, nowMS int64) Verdict {
	return f(ev, nowMS)
}

// Chain runs processors in order and stops at the first Stop.
type Chain struct {
	procs []Processor
}

// NewChain builds a chain. Nil processors are skipped.
func NewChain(procs ...Processor) *Chain {
	c := &Chain{}
	for _, p := range procs {
		if p != nil {
			c.procs = append(c.procs, p)
		}
	}
	return c
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int { return len(c.procs) }

func (c *Chain) Process(ev *input.Event, nowMS int64) Verdict {
	for _, p := range c.procs {
		if p.Process(ev, nowMS) == Stop {
			return Stop
		}
	}
	return Continue
}

// Stats counts what the snap processor did with the events it saw.
type Stats struct {
	Passed     uint64 `json:"passed"`
	Rewritten  uint64 `json:"rewritten"`
	Suppressed uint64 `json:"suppressed"`
}

// SnapProcessor adapts a snap.Engine to the Processor interface.
//
// Not safe for concurrent use: the engine is owned by one event path.
type SnapProcessor struct {
	engine *snap.Engine
	stats  Stats
}

// NewSnapProcessor wraps e.
func NewSnapProcessor(e *snap.Engine) *SnapProcessor {
	return &SnapProcessor{engine: e}
}

// Engine returns the wrapped engine.
func (p *SnapProcessor) Engine() *snap.Engine { return p.engine }

// Swap replaces the engine (e.g. after a config reload). Counters are kept.
func (p *SnapProcessor) Swap(e *snap.Engine) { p.engine = e }

// Stats returns a copy of the counters.
func (p *SnapProcessor) Stats() Stats { return p.stats }

func (p *SnapProcessor) Process(ev *input.Event, nowMS int64) Verdict {
	res := p.engine.HandleEvent(snap.Event{Type: ev.Type, Code: ev.Code, Value: ev.Value}, nowMS)
	switch res.Action {
	case snap.Rewrite:
		ev.Value = res.Value
		p.stats.Rewritten++
		return Continue
	case snap.Suppress:
		ev.Value = 0
		p.stats.Suppressed++
		return Stop
	default:
		p.stats.Passed++
		return Continue
	}
}

// DropCodes stops every event of the given type whose code is listed.
// Used to silence high-resolution wheel events that would otherwise bypass
// snapping.
func DropCodes(evType uint16, codes ...uint16) Processor {
	drop := make(map[uint16]struct{}, len(codes))
	for _, c := range codes {
		drop[c] = struct{}{}
	}
	return ProcessorFunc(func(ev *input.Event, _ int64) Verdict {
		if ev.Type != evType {
			return Continue
		}
		if _, ok := drop[ev.Code]; ok {
			return Stop
		}
		return Continue
	})
}
