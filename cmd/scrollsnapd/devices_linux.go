//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"scrollsnap/input"
)

// openInputs opens (and optionally grabs) every configured device. The
// returned func releases and closes them.
func openInputs(cfg InputConfig, logger *slog.Logger) ([]*os.File, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			if cfg.Grab {
				if err := input.Release(f); err != nil {
					logger.Debug("release failed", "device", f.Name(), "error", err)
				}
			}
			_ = f.Close()
		}
	}

	for _, path := range cfg.Devices {
		f, err := os.Open(ExpandPath(path))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", path, err)
		}
		files = append(files, f)

		if cfg.Grab {
			if err := input.Grab(f); err != nil {
				closeAll()
				return nil, nil, err
			}
		}
		logger.Info("opened input device", "device", path, "grab", cfg.Grab)
	}
	return files, closeAll, nil
}

// outputDevice is where processed frames are written.
type outputDevice interface {
	Write(events ...input.Event) error
	Close() error
}

// openOutput creates the uinput device that re-emits processed events.
func openOutput(cfg Config) (outputDevice, error) {
	rel := []uint16{input.REL_X, input.REL_Y, input.REL_HWHEEL, input.REL_WHEEL}
	if !cfg.Input.DropHiRes {
		rel = append(rel, input.REL_WHEEL_HI_RES, input.REL_HWHEEL_HI_RES)
	}
	if cfg.Snap.EventType == input.EV_REL {
		for _, code := range []uint16{cfg.Snap.EventCodeX, cfg.Snap.EventCodeY} {
			if !slices.Contains(rel, code) {
				rel = append(rel, code)
			}
		}
	}

	dev, err := input.CreateVirtualDevice(cfg.Output.UinputPath, input.VirtualDeviceConfig{
		Name:     cfg.Output.Name,
		RelCodes: rel,
		KeyCodes: []uint16{input.BTN_LEFT, input.BTN_RIGHT, input.BTN_MIDDLE, input.BTN_SIDE, input.BTN_EXTRA},
	})
	if err != nil {
		return nil, fmt.Errorf("create output device: %w", err)
	}
	return dev, nil
}

// startReaders reads every device from one epoll goroutine.
func startReaders(files []*os.File, events chan<- input.DeviceEvent, readErr chan<- error) {
	go input.ReadEventsEpoll(files, events, readErr)
}
