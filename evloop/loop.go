// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package evloop is the single threaded event loop every backend callback runs on.
//
// Event producers (device monitors, timers, fd readers, the repl) live in their own goroutines,
// but they never touch compositor state. They post closures into the loop's queue and the loop
// runs them one after another on a single goroutine. A closure posted from inside another
// callback runs after that callback returned, so callbacks can't nest.
package evloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mstarongithub/tsuki/util/multiplexer"
	"github.com/mstarongithub/tsuki/util/syncutil"
	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("event loop stopped")

// Token identifies a registered source or timer. The zero token is never handed out
type Token uint64

// Emit queues a closure on the loop. Closures emitted by a source that got removed in the meantime are dropped
type Emit func(fn func())

// SourceFunc runs in its own goroutine until ctx is cancelled or it returns
type SourceFunc func(ctx context.Context, emit Emit) error

type item struct {
	token Token
	fn    func()
}

type source struct {
	name   string
	cancel context.CancelFunc
	timer  clockwork.Timer
}

type Loop struct {
	clock clockwork.Clock
	queue *multiplexer.ManyToOne[item]

	lock    syncutil.Mutex
	sources map[Token]*source
	next    Token

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a loop. A nil clock means the real clock
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock:   clock,
		queue:   multiplexer.NewManyToOne[item](),
		sources: make(map[Token]*source),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post queues fn to run on the loop. Safe to call from any goroutine
func (l *Loop) Post(fn func()) error {
	if err := l.queue.Send(item{fn: fn}); err != nil {
		return ErrStopped
	}
	return nil
}

func (l *Loop) register(s *source) Token {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.next++
	l.sources[l.next] = s
	return l.next
}

func (l *Loop) alive(token Token) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	_, ok := l.sources[token]
	return ok
}

// InsertSource starts src in its own goroutine. Everything it emits runs on the loop
// until the returned token is removed
func (l *Loop) InsertSource(name string, src SourceFunc) Token {
	ctx, cancel := context.WithCancel(context.Background())
	token := l.register(&source{name: name, cancel: cancel})
	emit := func(fn func()) {
		if err := l.queue.Send(item{token: token, fn: fn}); err != nil {
			cancel()
		}
	}
	go func() {
		err := src(ctx, emit)
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).WithField("source", name).Errorln("Event source stopped")
		}
	}()
	logrus.WithFields(logrus.Fields{"source": name, "token": token}).Debugln("Inserted event source")
	return token
}

// AfterFunc runs fn on the loop once d has passed. Removing the token before that cancels it
func (l *Loop) AfterFunc(d time.Duration, fn func()) Token {
	s := &source{name: "timer"}
	token := l.register(s)
	timer := l.clock.AfterFunc(d, func() {
		_ = l.queue.Send(item{token: token, fn: func() {
			// One shot, drop the registration before running so fn can arm a new timer
			l.Remove(token)
			fn()
		}})
	})
	l.lock.Lock()
	s.timer = timer
	l.lock.Unlock()
	return token
}

// Remove unregisters a source or timer. Closures it already queued won't run anymore.
// Returns false if the token wasn't registered (anymore)
func (l *Loop) Remove(token Token) bool {
	l.lock.Lock()
	s, ok := l.sources[token]
	delete(l.sources, token)
	l.lock.Unlock()
	if !ok {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}

// Sources returns the amount of registered sources and timers
func (l *Loop) Sources() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.sources)
}

// Pending returns the amount of queued closures, including ones that will be dropped
func (l *Loop) Pending() int {
	return l.queue.Len()
}

// Dispatch runs everything queued so far and returns how many closures ran.
// Closures queued while dispatching run on the next call
func (l *Loop) Dispatch() int {
	ran := 0
	for _, it := range l.queue.Drain() {
		if it.token != 0 && !l.alive(it.token) {
			continue
		}
		it.fn()
		ran++
	}
	return ran
}

// Run dispatches until Stop is called or ctx is done
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case _, ok := <-l.queue.Ready():
			l.Dispatch()
			if !ok {
				return nil
			}
		}
	}
}

// Stop makes Run return after the current callback. Safe to call from any goroutine
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// Done is closed once Run returned. Nothing posted runs after that
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) shutdown() {
	defer l.doneOnce.Do(func() { close(l.done) })
	l.queue.Close()
	l.lock.Lock()
	tokens := make([]Token, 0, len(l.sources))
	for token := range l.sources {
		tokens = append(tokens, token)
	}
	l.lock.Unlock()
	for _, token := range tokens {
		l.Remove(token)
	}
}
