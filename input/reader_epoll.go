//go:build linux

package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReadEventsEpoll reads from multiple input devices using a single goroutine
// and epoll instead of one blocking goroutine per device.
//
// Each readiness notification may carry several queued events; all complete
// events in the read buffer are decoded and sent in order, tagged with the
// device's index in files.
func ReadEventsEpoll(files []*os.File, events chan<- DeviceEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToIndex := make(map[int]int)
	for i, f := range files {
		fd := int(f.Fd())
		fdToIndex[fd] = i

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	// evdev returns whole events only, so a multiple of EventSize never splits one.
	buf := make([]byte, EventSize*64)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			dev := fdToIndex[fd]
			f := files[dev]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				// Any device error is fatal; the daemon decides whether to restart.
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			nr, err := f.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			for off := 0; off+EventSize <= nr; off += EventSize {
				ev, err := Decode(buf[off : off+EventSize])
				if err != nil {
					continue
				}
				events <- DeviceEvent{Device: dev, Event: ev}
			}
		}
	}
}
