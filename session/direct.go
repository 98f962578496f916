package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ioctl on a console fd, see console_ioctl(2)
const vtActivate = 0x5606

// Direct opens device nodes itself. It can't follow vt switches, so it never pauses
type Direct struct {
	seat    string
	console string
}

var _ Session = (*Direct)(nil)

func NewDirect(seat string) *Direct {
	if seat == "" {
		seat = DefaultSeat
	}
	return &Direct{seat: seat, console: "/dev/tty0"}
}

func (d *Direct) Seat() string { return d.seat }

func (d *Direct) Active() bool { return true }

func (d *Direct) Open(path string, flags int) (*os.File, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBusy, path, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

func (d *Direct) Release(f *os.File) error {
	return f.Close()
}

func (d *Direct) ChangeVT(n int) error {
	fd, err := unix.Open(d.console, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoVT, err)
	}
	defer unix.Close(fd)
	if err := unix.IoctlSetInt(fd, vtActivate, n); err != nil {
		return fmt.Errorf("failed to activate vt %d: %w", n, err)
	}
	logrus.WithField("vt", n).Debugln("Switched vt")
	return nil
}

func (d *Direct) Listen(ctx context.Context, _ func(Event)) error {
	<-ctx.Done()
	return nil
}

func (d *Direct) Close() error { return nil }
