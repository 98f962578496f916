// Package scheduler paces frames for one output.
//
// After a frame with damage was queued the next render happens on vblank. Without damage there
// is no vblank to wait for, so a short timer retries instead. Either way exactly one wake source
// is armed while the output is live. The only gap is between a wake and the render it asked for,
// while the redraw sits in the loop queue.
package scheduler

import (
	"time"

	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/scanout"
	"github.com/sirupsen/logrus"
)

const DefaultRetryDelay = 6 * time.Millisecond

type State int

const (
	// Woken up (or just created), the redraw it asked for hasn't rendered yet
	RedrawQueued = State(iota)
	AwaitingVBlank
	AwaitingRetryTimer
	// Cancelled, nothing wakes it anymore
	Stopped
)

func (s State) String() string {
	switch s {
	case RedrawQueued:
		return "redraw queued"
	case AwaitingVBlank:
		return "awaiting vblank"
	case AwaitingRetryTimer:
		return "awaiting retry timer"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler must only be used from the loop goroutine
type Scheduler struct {
	loop       *evloop.Loop
	retryDelay time.Duration
	wake       func()

	state State
	timer evloop.Token
}

// New creates a scheduler calling wake whenever the next frame should be rendered.
// The caller queues the first redraw itself
func New(loop *evloop.Loop, retryDelay time.Duration, wake func()) *Scheduler {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Scheduler{loop: loop, retryDelay: retryDelay, wake: wake}
}

func (s *Scheduler) State() State {
	return s.state
}

func (s *Scheduler) RetryDelay() time.Duration {
	return s.retryDelay
}

// CanRender reports whether a render now would be useful. While a flip is in flight it isn't
func (s *Scheduler) CanRender() bool {
	return s.state != AwaitingVBlank
}

// FrameRendered arms the next wake source for the outcome of a render
func (s *Scheduler) FrameRendered(outcome scanout.Outcome) {
	if outcome.Kind == scanout.Submitted && outcome.HasDamage {
		s.disarm()
		s.state = AwaitingVBlank
		return
	}
	if outcome.Kind == scanout.Failed {
		logrus.WithError(outcome.Err).Debugln("Frame failed, retrying after delay")
	}
	s.arm()
}

// VBlank is called when the queued frame hit the screen
func (s *Scheduler) VBlank() {
	if s.state != AwaitingVBlank {
		logrus.WithField("state", s.state.String()).Debugln("Unexpected vblank")
		return
	}
	s.state = RedrawQueued
	s.wake()
}

// Cancel drops any armed wake source
func (s *Scheduler) Cancel() {
	s.disarm()
	s.state = Stopped
}

func (s *Scheduler) arm() {
	s.disarm()
	s.state = AwaitingRetryTimer
	s.timer = s.loop.AfterFunc(s.retryDelay, func() {
		s.timer = 0
		s.state = RedrawQueued
		s.wake()
	})
}

func (s *Scheduler) disarm() {
	if s.timer != 0 {
		s.loop.Remove(s.timer)
		s.timer = 0
	}
}
