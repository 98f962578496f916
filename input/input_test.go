package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/mstarongithub/tsuki/udev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(code uint16, value int32) evdev.InputEvent {
	return evdev.InputEvent{Time: syscall.Timeval{Sec: 1}, Type: evdev.EV_KEY, Code: code, Value: value}
}

func feed(k *Keyboard, events ...evdev.InputEvent) []Action {
	var actions []Action
	for _, ev := range events {
		if a, ok := k.Feed(ev); ok {
			actions = append(actions, a)
		}
	}
	return actions
}

func TestVTSwitchBinding(t *testing.T) {
	k := NewKeyboard()
	actions := feed(k,
		key(evdev.KEY_LEFTCTRL, 1),
		key(evdev.KEY_RIGHTALT, 1),
		key(evdev.KEY_F3, 1),
		key(evdev.KEY_F3, 2),
		key(evdev.KEY_F3, 0),
		key(evdev.KEY_F12, 1),
	)
	assert.Equal(t, []Action{{Kind: ActionChangeVT, VT: 3}, {Kind: ActionChangeVT, VT: 12}}, actions)

	actions = feed(k, key(evdev.KEY_RIGHTALT, 0), key(evdev.KEY_F2, 1))
	assert.Empty(t, actions)
}

func TestQuitBinding(t *testing.T) {
	k := NewKeyboard()
	assert.Empty(t, feed(k, key(evdev.KEY_Q, 1)))
	assert.Equal(t, []Action{{Kind: ActionQuit}}, feed(k,
		key(evdev.KEY_LEFTCTRL, 1),
		key(evdev.KEY_LEFTSHIFT, 1),
		key(evdev.KEY_Q, 1),
	))
	// Extra modifiers don't count
	assert.Empty(t, feed(k, key(evdev.KEY_LEFTALT, 1), key(evdev.KEY_Q, 1)))
}

func TestResetForgetsModifiers(t *testing.T) {
	k := NewKeyboard()
	feed(k, key(evdev.KEY_LEFTCTRL, 1), key(evdev.KEY_LEFTALT, 1))
	k.Reset()
	assert.Empty(t, feed(k, key(evdev.KEY_F1, 1)))
	assert.Empty(t, feed(k, evdev.InputEvent{Type: evdev.EV_SYN}))
}

type fileOpener struct {
	opened   []string
	released int
	err      error
}

func (o *fileOpener) Open(path string, _ int) (*os.File, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened = append(o.opened, path)
	return os.Open(path)
}

func (o *fileOpener) Release(f *os.File) error {
	o.released++
	return f.Close()
}

type staticLister []udev.Device

func (l staticLister) Keyboards() ([]udev.Device, error) { return l, nil }

func encode(t *testing.T, events ...evdev.InputEvent) []byte {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, events))
	return buf.Bytes()
}

func TestInputReadsKeyboards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event0")
	require.NoError(t, os.WriteFile(path, encode(t,
		key(evdev.KEY_LEFTCTRL, 1),
		key(evdev.KEY_LEFTALT, 1),
		key(evdev.KEY_F2, 1),
	), 0o600))

	opener := &fileOpener{}
	in := New(opener, staticLister{{Path: path}})
	actions := make(chan Action, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- in.Listen(ctx, func(a Action) { actions <- a }) }()

	select {
	case a := <-actions:
		assert.Equal(t, Action{Kind: ActionChangeVT, VT: 2}, a)
	case <-time.After(5 * time.Second):
		t.Fatal("no action")
	}
	// The file hits EOF after that, which drops the keyboard
	require.Eventually(t, func() bool { return in.Keyboards() == 0 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{path}, opener.opened)
	assert.Equal(t, 1, opener.released)
}

func TestResumeWithoutListen(t *testing.T) {
	opener := &fileOpener{err: errors.New("denied")}
	in := New(opener, staticLister{{Path: "/dev/input/event0"}})
	in.Suspend()
	assert.NoError(t, in.Resume())
	assert.Empty(t, opener.opened)
}
