package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(dbus.Error{Name: "org.freedesktop.login1.DeviceIsTaken"}))
	assert.True(t, isBusy(&dbus.Error{Name: "System.Error.EBUSY"}))
	assert.False(t, isBusy(dbus.Error{Name: "System.Error.ENOENT"}))
	assert.False(t, isBusy(os.ErrNotExist))
}

func TestActivityDeduplicates(t *testing.T) {
	var got []EventKind
	a := &activity{active: true, handler: func(ev Event) { got = append(got, ev.Kind) }}
	a.set(true, nil)
	a.set(false, nil)
	a.set(false, nil)
	a.set(true, nil)
	a.set(true, nil)
	assert.Equal(t, []EventKind{Pause, Activate}, got)
}

func TestActivityCarriesAcknowledgement(t *testing.T) {
	var got []Event
	a := &activity{active: true, handler: func(ev Event) { got = append(got, ev) }}
	acks := 0
	ack := func() { acks++ }

	a.set(false, ack)
	require.Len(t, got, 1)
	assert.Equal(t, Pause, got[0].Kind)
	assert.Equal(t, 0, acks, "acknowledged before the pause was handled")
	got[0].Handled()
	assert.Equal(t, 1, acks)

	// Already paused through another notification, the acknowledgement still waits for the handler
	a.set(false, ack)
	require.Len(t, got, 2)
	assert.Equal(t, 1, acks)
	got[1].Handled()
	assert.Equal(t, 2, acks)

	// Events without acknowledgement are fine to handle too
	a.set(true, nil)
	require.Len(t, got, 3)
	got[2].Handled()
	assert.Equal(t, 2, acks)
}

func TestDirectOpenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card0")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	d := NewDirect("")
	assert.Equal(t, DefaultSeat, d.Seat())
	assert.True(t, d.Active())

	f, err := d.Open(path, unix.O_RDWR)
	require.NoError(t, err)
	assert.Equal(t, path, f.Name())
	require.NoError(t, d.Release(f))

	_, err = d.Open(filepath.Join(t.TempDir(), "missing"), unix.O_RDWR)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestDirectListenStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewDirect("seat1").Listen(ctx, func(Event) { t.Error("unexpected event") }) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen didn't return")
	}
}

func TestDirectChangeVTWithoutConsole(t *testing.T) {
	d := NewDirect("")
	d.console = filepath.Join(t.TempDir(), "tty0")
	assert.ErrorIs(t, d.ChangeVT(2), ErrNoVT)
}
