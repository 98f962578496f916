// Package session gets access to devices of a seat without being root.
//
// The logind session is preferred. Without a reachable logind the devices are opened directly,
// which needs the right permissions and doesn't deliver pause or activate events.
package session

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const DefaultSeat = "seat0"

// ErrBusy means the device is temporarily unavailable, opening it again later may work
var ErrBusy = errors.New("device busy")

var ErrNoVT = errors.New("session has no virtual terminals")

type EventKind int

const (
	// The session lost access to its devices, usually because of a vt switch away
	Pause = EventKind(iota)
	// Access came back
	Activate
)

func (k EventKind) String() string {
	if k == Pause {
		return "pause"
	}
	return "activate"
}

type Event struct {
	Kind EventKind
	// Done acknowledges the event to the session. Set for pauses logind waits on,
	// which revokes the devices only after the acknowledgement or a timeout
	Done func()
}

// Handled calls Done, if any. Must be called once the event took effect
func (e Event) Handled() {
	if e.Done != nil {
		e.Done()
	}
}

type Session interface {
	Seat() string
	Active() bool
	// Open opens a device node. Returns ErrBusy if the device can't be opened right now
	Open(path string, flags int) (*os.File, error)
	Release(f *os.File) error
	ChangeVT(n int) error
	// Listen delivers session events until ctx is done
	Listen(ctx context.Context, handler func(Event)) error
	Close() error
}

// New connects to logind, falling back to opening devices directly
func New(seat string) (Session, error) {
	s, err := NewLogind()
	if err == nil {
		if seat != "" && seat != s.Seat() {
			logrus.WithFields(logrus.Fields{
				"configured": seat,
				"session":    s.Seat(),
			}).Warningln("Configured seat differs from the session's seat, using the session's")
		}
		return s, nil
	}
	logrus.WithError(err).Warningln("No logind session, opening devices directly")
	return NewDirect(seat), nil
}

// deviceNumber returns the major and minor number of a device node
func deviceNumber(path string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), nil
}

func fileDeviceNumber(f *os.File) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, 0, err
	}
	return unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), nil
}

// activity turns a stream of device and session notifications into deduplicated events
type activity struct {
	active  bool
	handler func(Event)
}

// set reports a change of activity. An unchanged state is dropped, unless it carries an
// acknowledgement: a pause that is already known may still have its handling queued behind it
func (a *activity) set(active bool, done func()) {
	if a.active == active && done == nil {
		return
	}
	a.active = active
	if active {
		a.handler(Event{Kind: Activate, Done: done})
	} else {
		a.handler(Event{Kind: Pause, Done: done})
	}
}
