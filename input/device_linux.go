//go:build linux

package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// evdev / uinput ioctl numbers (from <linux/input.h> and <linux/uinput.h>)
const (
	eviocgrab = 0x40044590

	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	busVirtual  = 0x06
	maxNameSize = 80
	absSize     = 64
)

// Grab takes exclusive access to an input device so its events reach only us.
func Grab(f *os.File) error {
	if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1); err != nil {
		return fmt.Errorf("grab %s: %w", f.Name(), err)
	}
	return nil
}

// Release gives up exclusive access taken by Grab.
func Release(f *os.File) error {
	if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 0); err != nil {
		return fmt.Errorf("release %s: %w", f.Name(), err)
	}
	return nil
}

// inputID mirrors struct input_id.
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// userDev mirrors struct uinput_user_dev.
type userDev struct {
	Name       [maxNameSize]byte
	ID         inputID
	EffectsMax uint32
	Absmax     [absSize]int32
	Absmin     [absSize]int32
	Absfuzz    [absSize]int32
	Absflat    [absSize]int32
}

// VirtualDeviceConfig describes the capabilities of the output device.
type VirtualDeviceConfig struct {
	Name     string
	RelCodes []uint16
	KeyCodes []uint16
}

// VirtualDevice is a uinput device that re-emits processed events.
type VirtualDevice struct {
	f *os.File
}

// CreateVirtualDevice opens the uinput node at path and registers a relative
// pointer device with the given capabilities.
func CreateVirtualDevice(path string, cfg VirtualDeviceConfig) (*VirtualDevice, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())

	fail := func(step string, err error) (*VirtualDevice, error) {
		_ = f.Close()
		return nil, fmt.Errorf("uinput %s: %w", step, err)
	}

	if err := unix.IoctlSetInt(fd, uiSetEvBit, EV_REL); err != nil {
		return fail("set EV_REL", err)
	}
	for _, code := range cfg.RelCodes {
		if err := unix.IoctlSetInt(fd, uiSetRelBit, int(code)); err != nil {
			return fail(fmt.Sprintf("set rel bit %#x", code), err)
		}
	}
	if len(cfg.KeyCodes) > 0 {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, EV_KEY); err != nil {
			return fail("set EV_KEY", err)
		}
		for _, code := range cfg.KeyCodes {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
				return fail(fmt.Sprintf("set key bit %#x", code), err)
			}
		}
	}

	dev := userDev{
		ID: inputID{
			Bustype: busVirtual,
			Vendor:  0x5c5c,
			Product: 0x0001,
			Version: 1,
		},
	}
	copy(dev.Name[:], cfg.Name)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, dev); err != nil {
		return fail("encode user dev", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fail("write user dev", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fail("create device", err)
	}

	return &VirtualDevice{f: f}, nil
}

// Write emits events in one write call. Callers terminate frames with a
// SYN_REPORT themselves.
func (d *VirtualDevice) Write(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(events)*EventSize)
	for _, ev := range events {
		buf = AppendEncode(buf, ev)
	}
	if _, err := d.f.Write(buf); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// Close destroys the virtual device and closes the uinput handle.
func (d *VirtualDevice) Close() error {
	_ = unix.IoctlSetInt(int(d.f.Fd()), uiDevDestroy, 0)
	return d.f.Close()
}
