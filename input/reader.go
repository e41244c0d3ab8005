package input

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ReadEvents reads input events from r and sends them to a channel, tagged
// with device. This runs in a dedicated goroutine and blocks on read
// operations; it returns after reporting the first read error.
func ReadEvents(r io.Reader, device int, events chan<- DeviceEvent, readErr chan<- error) {
	buf := make([]byte, EventSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev Event
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- DeviceEvent{Device: device, Event: ev}
	}
}
