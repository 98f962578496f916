package udev

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/pilebones/go-udev/netlink"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type EventKind int

const (
	Added = EventKind(iota)
	Changed
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	ID   DevID
	Path string // Only set for Added
}

// Monitor delivers hot-plug events of the seat's cards until ctx is done.
// The udev netlink group is used if possible, otherwise /dev/dri is watched,
// which can't notice changes
func (e *Enumerator) Monitor(ctx context.Context, handler func(Event)) error {
	conn := &netlink.UEventConn{}
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logrus.WithError(err).Warningln("No uevent socket, watching /dev/dri instead")
		return e.watchNodes(ctx, handler)
	}
	defer conn.Close()
	return e.readUevents(ctx, conn, handler)
}

func (e *Enumerator) readUevents(ctx context.Context, conn *netlink.UEventConn, handler func(Event)) error {
	// ReadMsg blocks, so only read once poll says a message is there
	fds := []unix.PollFd{{Fd: int32(conn.Fd), Events: unix.POLLIN}}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("failed to poll uevent socket: %w", err)
		}
		if n == 0 {
			continue
		}
		msg, err := conn.ReadMsg()
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
				continue
			}
			return fmt.Errorf("failed to read uevent: %w", err)
		}
		uevent, err := netlink.ParseUEvent(msg)
		if err != nil {
			logrus.WithError(err).Debugln("Dropping malformed uevent")
			continue
		}
		if ev, ok := e.eventFrom(*uevent); ok {
			handler(ev)
		}
	}
}

func (e *Enumerator) eventFrom(uevent netlink.UEvent) (Event, bool) {
	props := uevent.Env
	if props["SUBSYSTEM"] != "drm" {
		return Event{}, false
	}
	name := filepath.Base(props["DEVNAME"])
	if !cardName.MatchString(name) {
		return Event{}, false
	}
	major, err1 := strconv.ParseUint(props["MAJOR"], 10, 32)
	minor, err2 := strconv.ParseUint(props["MINOR"], 10, 32)
	if err1 != nil || err2 != nil {
		return Event{}, false
	}
	seat := props["ID_SEAT"]
	if seat == "" {
		seat = defaultSeat
	}
	if seat != e.Seat {
		return Event{}, false
	}
	ev := Event{ID: MakeDevID(uint32(major), uint32(minor))}
	switch string(uevent.Action) {
	case "add":
		ev.Kind = Added
		ev.Path = e.nodePath(name)
	case "change":
		ev.Kind = Changed
	case "remove":
		ev.Kind = Removed
	default:
		return Event{}, false
	}
	return ev, true
}

func (e *Enumerator) watchNodes(ctx context.Context, handler func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Join(e.DevRoot, "dri")
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	known := make(map[string]DevID)
	if devices, err := e.Scan(); err == nil {
		for _, dev := range devices {
			known[dev.Path] = dev.ID
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !cardName.MatchString(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				var st unix.Stat_t
				if err := unix.Stat(event.Name, &st); err != nil {
					logrus.WithError(err).WithField("path", event.Name).Warningln("New card vanished")
					continue
				}
				id := DevID(st.Rdev)
				known[event.Name] = id
				handler(Event{Kind: Added, ID: id, Path: event.Name})
			case event.Has(fsnotify.Remove):
				id, ok := known[event.Name]
				if !ok {
					continue
				}
				delete(known, event.Name)
				handler(Event{Kind: Removed, ID: id})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).Warningln("fsnotify error")
		}
	}
}
