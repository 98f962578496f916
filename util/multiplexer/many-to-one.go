// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"

	"github.com/mstarongithub/tsuki/util/syncutil"
)

var ErrClosed = errors.New("multiplexer has been closed")

// A many to one multiplexer
// Yes, channels technically already are that, but a bounded channel blocks the sender once it is full,
// and the receiver of this one is also one of its senders (event loop callbacks post follow-up work).
// So messages are buffered in an unbounded slice and the receiver gets woken through a channel of size 1
type ManyToOne[T any] struct {
	lock    syncutil.Mutex
	pending []T
	wake    chan struct{}
	closed  bool
}

// NewManyToOne creates a new, empty ManyToOne multiplexer
func NewManyToOne[T any]() *ManyToOne[T] {
	return &ManyToOne[T]{
		wake: make(chan struct{}, 1),
	}
}

// Send a message to this many to one plexer
// Never blocks. If closed, the message won't get sent
func (m *ManyToOne[T]) Send(msg T) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending = append(m.pending, msg)

	// Still under the lock so Close can't close wake in between
	select {
	case m.wake <- struct{}{}:
	default:
		// Receiver already has a wakeup queued
	}
	return nil
}

// Ready fires whenever messages may be waiting. It is closed once the plexer is closed
func (m *ManyToOne[T]) Ready() <-chan struct{} {
	return m.wake
}

// Drain takes every message sent so far, in send order
func (m *ManyToOne[T]) Drain() []T {
	m.lock.Lock()
	defer m.lock.Unlock()
	msgs := m.pending
	m.pending = nil
	return msgs
}

// Len returns the amount of messages waiting to be drained
func (m *ManyToOne[T]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.pending)
}

// Closes the plexer. Messages still pending can be drained afterwards
func (m *ManyToOne[T]) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.wake)
}
