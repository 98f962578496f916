package kms

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// struct drm_event types
const (
	drmEventVBlank       = 0x01
	drmEventFlipComplete = 0x02
)

// struct drm_event_vblank is the only payload read here. 8 byte header, then
// user_data, tv_sec, tv_usec, sequence, crtc_id
const drmEventVBlankSize = 32

const pollTimeout = 100 // ms

// readEvents polls the card and hands decoded events to handler until ctx is done.
// Read errors are reported as EventError and end the loop
func readEvents(ctx context.Context, file *os.File, handler func(Event)) error {
	fd := int(file.Fd())
	buf := make([]byte, 1024)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := unix.Poll(fds, pollTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			err = fmt.Errorf("failed to poll %s: %w", file.Name(), err)
			handler(Event{Kind: EventError, Err: err})
			return err
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
				err = fmt.Errorf("%s hung up", file.Name())
				handler(Event{Kind: EventError, Err: err})
				return err
			}
			continue
		}
		read, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			err = fmt.Errorf("failed to read events from %s: %w", file.Name(), err)
			handler(Event{Kind: EventError, Err: err})
			return err
		}
		for _, ev := range parseEvents(buf[:read]) {
			handler(ev)
		}
	}
}

// parseEvents decodes a buffer of struct drm_event. Unknown event types are skipped,
// a truncated trailing event is dropped
func parseEvents(data []byte) []Event {
	var events []Event
	for len(data) >= 8 {
		typ := binary.NativeEndian.Uint32(data[0:4])
		length := int(binary.NativeEndian.Uint32(data[4:8]))
		if length < 8 || length > len(data) {
			break
		}
		if (typ == drmEventVBlank || typ == drmEventFlipComplete) && length >= drmEventVBlankSize {
			sec := binary.NativeEndian.Uint32(data[16:20])
			usec := binary.NativeEndian.Uint32(data[20:24])
			events = append(events, Event{
				Kind:     EventVBlank,
				Sequence: binary.NativeEndian.Uint32(data[24:28]),
				CRTC:     binary.NativeEndian.Uint32(data[28:32]),
				Time:     time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)),
			})
		}
		data = data[length:]
	}
	return events
}
