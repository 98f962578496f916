package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/scanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Scheduler, *evloop.Loop, *clockwork.FakeClock, *int) {
	clock := clockwork.NewFakeClock()
	loop := evloop.New(clock)
	wakes := 0
	s := New(loop, 0, func() { wakes++ })
	return s, loop, clock, &wakes
}

// fire advances the clock by d and runs whatever the timers queued
func fire(t *testing.T, loop *evloop.Loop, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	before := loop.Pending()
	clock.Advance(d)
	require.Eventually(t, func() bool { return loop.Pending() > before }, time.Second, time.Millisecond)
	loop.Dispatch()
}

func TestDamageAwaitsVBlank(t *testing.T) {
	s, loop, _, wakes := setup(t)
	s.FrameRendered(scanout.SubmittedOutcome(true))
	assert.Equal(t, AwaitingVBlank, s.State())
	assert.False(t, s.CanRender())
	assert.Equal(t, 0, loop.Sources())

	s.VBlank()
	assert.Equal(t, RedrawQueued, s.State())
	assert.Equal(t, 1, *wakes)
}

func TestNoDamageArmsRetryTimer(t *testing.T) {
	s, loop, clock, wakes := setup(t)
	s.FrameRendered(scanout.SubmittedOutcome(false))
	assert.Equal(t, AwaitingRetryTimer, s.State())
	assert.Equal(t, 6*time.Millisecond, s.RetryDelay())
	assert.Equal(t, 1, loop.Sources())
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))

	clock.Advance(5 * time.Millisecond)
	loop.Dispatch()
	assert.Equal(t, 0, *wakes)

	fire(t, loop, clock, time.Millisecond)
	assert.Equal(t, 1, *wakes)
	assert.Equal(t, RedrawQueued, s.State())
	assert.Equal(t, 0, loop.Sources())
}

func TestFailureArmsRetryTimer(t *testing.T) {
	s, loop, _, _ := setup(t)
	s.FrameRendered(scanout.FailedOutcome(errors.New("nope")))
	assert.Equal(t, AwaitingRetryTimer, s.State())
	assert.Equal(t, 1, loop.Sources())
}

func TestArmingReplacesTimer(t *testing.T) {
	s, loop, clock, wakes := setup(t)
	s.FrameRendered(scanout.SubmittedOutcome(false))
	s.FrameRendered(scanout.SubmittedOutcome(false))
	s.FrameRendered(scanout.SubmittedOutcome(false))
	assert.Equal(t, 1, loop.Sources())

	fire(t, loop, clock, 6*time.Millisecond)
	assert.Equal(t, 1, *wakes)

	s.FrameRendered(scanout.SubmittedOutcome(false))
	s.FrameRendered(scanout.SubmittedOutcome(true))
	assert.Equal(t, 0, loop.Sources())
	assert.Equal(t, AwaitingVBlank, s.State())
}

func TestCancel(t *testing.T) {
	s, loop, clock, wakes := setup(t)
	s.FrameRendered(scanout.SubmittedOutcome(false))
	s.Cancel()
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0, loop.Sources())

	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	loop.Dispatch()
	assert.Equal(t, 0, *wakes)
}

func TestStartsWithRedrawQueued(t *testing.T) {
	s, loop, _, wakes := setup(t)
	assert.Equal(t, RedrawQueued, s.State())
	assert.Equal(t, "redraw queued", s.State().String())
	assert.True(t, s.CanRender())
	assert.Equal(t, 0, loop.Sources())
	assert.Equal(t, 0, *wakes)

	s.Cancel()
	assert.Equal(t, "stopped", s.State().String())
}

func TestUnexpectedVBlank(t *testing.T) {
	s, _, _, wakes := setup(t)
	s.VBlank()
	assert.Equal(t, 0, *wakes)
	s.FrameRendered(scanout.SubmittedOutcome(false))
	s.VBlank()
	assert.Equal(t, AwaitingRetryTimer, s.State())
	assert.Equal(t, 0, *wakes)
}
