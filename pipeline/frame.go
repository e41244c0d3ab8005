package pipeline

import (
	"scrollsnap/input"
)

// Writer receives complete frames.
type Writer interface {
	Write(events ...input.Event) error
}

// Frame collects the events of one evdev report until its SYN_REPORT.
type Frame struct {
	events []input.Event
}

// Add appends a forwarded event.
func (f *Frame) Add(ev input.Event) {
	f.events = append(f.events, ev)
}

// Len returns the number of pending events.
func (f *Frame) Len() int { return len(f.events) }

// Sync closes the frame with syn. It returns the events to flush followed by
// syn, or nil when nothing survived processing: a report whose events were all
// suppressed is not flushed at all.
func (f *Frame) Sync(syn input.Event) []input.Event {
	if len(f.events) == 0 {
		return nil
	}
	out := make([]input.Event, 0, len(f.events)+1)
	out = append(out, f.events...)
	out = append(out, syn)
	f.events = f.events[:0]
	return out
}

// Drop discards pending events (after SYN_DROPPED the report is incomplete).
func (f *Frame) Drop() {
	f.events = f.events[:0]
}

// Router feeds raw device events through a chain and writes complete frames.
type Router struct {
	chain *Chain
	out   Writer
	frame Frame
}

// NewRouter creates a router writing to out.
func NewRouter(chain *Chain, out Writer) *Router {
	return &Router{chain: chain, out: out}
}

// Handle processes one raw event read from a device at nowMS.
func (r *Router) Handle(ev input.Event, nowMS int64) error {
	if ev.Type == input.EV_SYN {
		switch ev.Code {
		case input.SYN_REPORT:
			if batch := r.frame.Sync(ev); batch != nil {
				return r.out.Write(batch...)
			}
			return nil
		case input.SYN_DROPPED:
			r.frame.Drop()
			return nil
		}
		r.frame.Add(ev)
		return nil
	}

	if r.chain.Process(&ev, nowMS) == Stop {
		return nil
	}
	r.frame.Add(ev)
	return nil
}
