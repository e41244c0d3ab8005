//go:build !linux

package main

import (
	"errors"
	"log/slog"
	"os"

	"scrollsnap/input"
)

var errUnsupported = errors.New("evdev input requires linux")

func openInputs(InputConfig, *slog.Logger) ([]*os.File, func(), error) {
	return nil, nil, errUnsupported
}

type outputDevice interface {
	Write(events ...input.Event) error
	Close() error
}

func openOutput(Config) (outputDevice, error) {
	return nil, errUnsupported
}

func startReaders(files []*os.File, events chan<- input.DeviceEvent, readErr chan<- error) {
	for i, f := range files {
		go input.ReadEvents(f, i, events, readErr)
	}
}
