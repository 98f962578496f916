package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	logindService    = "org.freedesktop.login1"
	logindPath       = "/org/freedesktop/login1"
	managerInterface = "org.freedesktop.login1.Manager"
	sessionInterface = "org.freedesktop.login1.Session"
	seatInterface    = "org.freedesktop.login1.Seat"
	propsInterface   = "org.freedesktop.DBus.Properties"

	drmMajor = 226
)

// D-Bus errors logind answers TakeDevice with while a device can't be handed out yet
var busyErrors = map[string]bool{
	"org.freedesktop.login1.DeviceIsTaken": true,
	"System.Error.EBUSY":                   true,
	"System.Error.EAGAIN":                  true,
}

func isBusy(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return busyErrors[dbusErr.Name]
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil {
		return busyErrors[dbusErrPtr.Name]
	}
	return false
}

type Logind struct {
	conn     *dbus.Conn
	session  dbus.BusObject
	seatObj  dbus.BusObject
	seat     string
	canVT    bool
	isActive atomic.Bool
}

var _ Session = (*Logind)(nil)

func NewLogind() (*Logind, error) {
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to authenticate on system D-Bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to say hello on system D-Bus: %w", err)
	}

	manager := conn.Object(logindService, logindPath)
	var sessionPath dbus.ObjectPath
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		err = manager.Call(managerInterface+".GetSession", 0, id).Store(&sessionPath)
	} else {
		err = manager.Call(managerInterface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&sessionPath)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to find own logind session: %w", err)
	}

	l := &Logind{
		conn:    conn,
		session: conn.Object(logindService, sessionPath),
	}
	if err := l.readSeat(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	active, err := l.session.GetProperty(sessionInterface + ".Active")
	if err == nil {
		if b, ok := active.Value().(bool); ok {
			l.isActive.Store(b)
		}
	}
	if err := l.session.Call(sessionInterface+".TakeControl", 0, false).Err; err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take control of session %s: %w", sessionPath, err)
	}
	logrus.WithFields(logrus.Fields{
		"session": sessionPath,
		"seat":    l.seat,
	}).Infoln("Took control of logind session")
	return l, nil
}

func (l *Logind) readSeat() error {
	v, err := l.session.GetProperty(sessionInterface + ".Seat")
	if err != nil {
		return fmt.Errorf("failed to read seat of session: %w", err)
	}
	// (so): seat id and object path
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) != 2 {
		return fmt.Errorf("unexpected seat property %s", v.String())
	}
	l.seat, _ = fields[0].(string)
	path, _ := fields[1].(dbus.ObjectPath)
	if l.seat == "" || !path.IsValid() {
		return fmt.Errorf("session isn't attached to a seat")
	}
	l.seatObj = l.conn.Object(logindService, path)
	if can, err := l.seatObj.GetProperty(seatInterface + ".CanTTY"); err == nil {
		l.canVT, _ = can.Value().(bool)
	}
	return nil
}

func (l *Logind) Seat() string { return l.seat }

func (l *Logind) Active() bool { return l.isActive.Load() }

// Open hands out the device through TakeDevice. logind decides the open flags itself
func (l *Logind) Open(path string, _ int) (*os.File, error) {
	major, minor, err := deviceNumber(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	var fd dbus.UnixFD
	var inactive bool
	err = l.session.Call(sessionInterface+".TakeDevice", 0, major, minor).Store(&fd, &inactive)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBusy, path, err)
		}
		return nil, fmt.Errorf("failed to take device %s: %w", path, err)
	}
	if inactive {
		logrus.WithField("path", path).Debugln("Took device while the session is inactive")
	}
	return os.NewFile(uintptr(fd), path), nil
}

func (l *Logind) Release(f *os.File) error {
	major, minor, err := fileDeviceNumber(f)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	callErr := l.session.Call(sessionInterface+".ReleaseDevice", 0, major, minor).Err
	closeErr := f.Close()
	if callErr != nil {
		return fmt.Errorf("failed to release device %s: %w", f.Name(), callErr)
	}
	return closeErr
}

func (l *Logind) ChangeVT(n int) error {
	if !l.canVT {
		return ErrNoVT
	}
	return l.seatObj.Call(seatInterface+".SwitchTo", 0, uint32(n)).Err
}

func (l *Logind) Listen(ctx context.Context, handler func(Event)) error {
	path := l.session.Path()
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchObjectPath(path), dbus.WithMatchInterface(sessionInterface), dbus.WithMatchMember("PauseDevice")},
		{dbus.WithMatchObjectPath(path), dbus.WithMatchInterface(sessionInterface), dbus.WithMatchMember("ResumeDevice")},
		{dbus.WithMatchObjectPath(path), dbus.WithMatchInterface(propsInterface), dbus.WithMatchMember("PropertiesChanged")},
	}
	for _, m := range matches {
		if err := l.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("failed to subscribe to session signals: %w", err)
		}
	}
	signals := make(chan *dbus.Signal, 16)
	l.conn.Signal(signals)
	defer l.conn.RemoveSignal(signals)

	state := &activity{active: l.Active(), handler: handler}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("D-Bus connection closed")
			}
			if sig.Path != path {
				continue
			}
			l.handleSignal(sig, state)
		}
	}
}

func (l *Logind) handleSignal(sig *dbus.Signal, state *activity) {
	switch sig.Name {
	case sessionInterface + ".PauseDevice":
		var major, minor uint32
		var typ string
		if err := dbus.Store(sig.Body, &major, &minor, &typ); err != nil {
			logrus.WithError(err).Warningln("Malformed PauseDevice signal")
			return
		}
		logrus.WithFields(logrus.Fields{"major": major, "minor": minor, "type": typ}).Debugln("Device paused")
		// "pause" has to be acknowledged, "force" and "gone" already happened
		var ack func()
		if typ == "pause" {
			ack = l.pauseComplete(major, minor)
		}
		if major != drmMajor {
			if ack != nil {
				ack()
			}
			return
		}
		l.isActive.Store(false)
		// The card may only be taken away once nothing uses it anymore, so the handler acknowledges
		state.set(false, ack)
	case sessionInterface + ".ResumeDevice":
		var major, minor uint32
		var fd dbus.UnixFD
		if err := dbus.Store(sig.Body, &major, &minor, &fd); err != nil {
			logrus.WithError(err).Warningln("Malformed ResumeDevice signal")
			return
		}
		// DRM fds stay valid across pauses, logind only passes a duplicate
		_ = unix.Close(int(fd))
		logrus.WithFields(logrus.Fields{"major": major, "minor": minor}).Debugln("Device resumed")
		if major == drmMajor {
			l.isActive.Store(true)
			state.set(true, nil)
		}
	case propsInterface + ".PropertiesChanged":
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != sessionInterface {
			return
		}
		if v, ok := changed["Active"]; ok {
			if active, ok := v.Value().(bool); ok {
				l.isActive.Store(active)
				state.set(active, nil)
			}
		}
	}
}

func (l *Logind) pauseComplete(major, minor uint32) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := l.session.Call(sessionInterface+".PauseDeviceComplete", 0, major, minor).Err; err != nil {
				logrus.WithError(err).Warningln("Failed to acknowledge device pause")
			}
		})
	}
}

func (l *Logind) Close() error {
	if err := l.session.Call(sessionInterface+".ReleaseControl", 0).Err; err != nil {
		logrus.WithError(err).Warningln("Failed to release session control")
	}
	return l.conn.Close()
}
