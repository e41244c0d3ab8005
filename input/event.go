// Package input reads and writes Linux evdev events.
package input

import (
	"encoding/binary"
	"fmt"
)

// Linux input event types and codes (from <linux/input-event-codes.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02

	SYN_REPORT  = 0
	SYN_DROPPED = 3

	REL_X             = 0x00
	REL_Y             = 0x01
	REL_HWHEEL        = 0x06
	REL_WHEEL         = 0x08
	REL_WHEEL_HI_RES  = 0x0b
	REL_HWHEEL_HI_RES = 0x0c

	BTN_LEFT   = 0x110
	BTN_RIGHT  = 0x111
	BTN_MIDDLE = 0x112
	BTN_SIDE   = 0x113
	BTN_EXTRA  = 0x114
)

// EventSize is the size of struct input_event on 64-bit Linux.
const EventSize = 24

// Event represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// DeviceEvent is an Event tagged with the index of the device it was read
// from, so each device's reports can be framed and processed separately.
type DeviceEvent struct {
	Device int
	Event
}

// IsSync reports whether ev is a SYN_REPORT frame terminator.
func (ev Event) IsSync() bool {
	return ev.Type == EV_SYN && ev.Code == SYN_REPORT
}

func (ev Event) String() string {
	return fmt.Sprintf("type=%#02x code=%#02x value=%d", ev.Type, ev.Code, ev.Value)
}

// Decode parses one little-endian input_event.
func Decode(b []byte) (Event, error) {
	if len(b) < EventSize {
		return Event{}, fmt.Errorf("short input event: %d bytes", len(b))
	}
	return Event{
		Sec:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Usec:  int64(binary.LittleEndian.Uint64(b[8:16])),
		Type:  binary.LittleEndian.Uint16(b[16:18]),
		Code:  binary.LittleEndian.Uint16(b[18:20]),
		Value: int32(binary.LittleEndian.Uint32(b[20:24])),
	}, nil
}

// AppendEncode appends the little-endian encoding of ev to b.
func AppendEncode(b []byte, ev Event) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(ev.Sec))
	b = binary.LittleEndian.AppendUint64(b, uint64(ev.Usec))
	b = binary.LittleEndian.AppendUint16(b, ev.Type)
	b = binary.LittleEndian.AppendUint16(b, ev.Code)
	b = binary.LittleEndian.AppendUint32(b, uint32(ev.Value))
	return b
}
