// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package input reads the seat's keyboards for the compositor's own key bindings.
// Everything else about input belongs to the compositor core
package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/mstarongithub/tsuki/udev"
	"github.com/mstarongithub/tsuki/util/syncutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Opener is the part of a session input needs
type Opener interface {
	Open(path string, flags int) (*os.File, error)
	Release(f *os.File) error
}

// Lister finds keyboards, usually *udev.Enumerator
type Lister interface {
	Keyboards() ([]udev.Device, error)
}

type keyboard struct {
	dev  *evdev.InputDevice
	keys *Keyboard
}

type Input struct {
	opener Opener
	lister Lister

	suspended atomic.Bool

	lock      syncutil.Mutex
	keyboards map[string]*keyboard
	ctx       context.Context
	handler   func(Action)
}

func New(opener Opener, lister Lister) *Input {
	return &Input{
		opener:    opener,
		lister:    lister,
		keyboards: make(map[string]*keyboard),
	}
}

// Listen reads all keyboards until ctx is done, calling handler from reader goroutines
func (in *Input) Listen(ctx context.Context, handler func(Action)) error {
	in.lock.Lock()
	in.ctx = ctx
	in.handler = handler
	in.lock.Unlock()

	if err := in.openKeyboards(); err != nil {
		logrus.WithError(err).Warningln("Not all keyboards could be opened")
	}
	<-ctx.Done()

	in.lock.Lock()
	defer in.lock.Unlock()
	for path, kb := range in.keyboards {
		in.close(path, kb)
	}
	in.ctx = nil
	return nil
}

// openKeyboards opens every keyboard not already being read
func (in *Input) openKeyboards() error {
	devices, err := in.lister.Keyboards()
	if err != nil {
		return err
	}
	in.lock.Lock()
	defer in.lock.Unlock()
	if in.ctx == nil || in.ctx.Err() != nil {
		return nil
	}
	var errs []error
	for _, dev := range devices {
		if _, ok := in.keyboards[dev.Path]; ok {
			continue
		}
		f, err := in.opener.Open(dev.Path, unix.O_RDONLY|unix.O_NONBLOCK)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to open keyboard %s: %w", dev.Path, err))
			continue
		}
		kb := &keyboard{
			dev:  &evdev.InputDevice{Fn: dev.Path, File: f},
			keys: NewKeyboard(),
		}
		in.keyboards[dev.Path] = kb
		go in.read(in.ctx, dev.Path, kb)
		logrus.WithField("path", dev.Path).Debugln("Reading keyboard")
	}
	return errors.Join(errs...)
}

func (in *Input) read(ctx context.Context, path string, kb *keyboard) {
	for {
		events, err := kb.dev.Read()
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithError(err).WithField("path", path).Warningln("Keyboard read failed, dropping it")
				in.lock.Lock()
				if in.keyboards[path] == kb {
					in.close(path, kb)
				}
				in.lock.Unlock()
			}
			return
		}
		if in.suspended.Load() {
			continue
		}
		for _, ev := range events {
			if action, ok := kb.keys.Feed(ev); ok {
				in.handler(action)
			}
		}
	}
}

// close must be called with the lock held
func (in *Input) close(path string, kb *keyboard) {
	delete(in.keyboards, path)
	if err := in.opener.Release(kb.dev.File); err != nil {
		logrus.WithError(err).WithField("path", path).Debugln("Failed to release keyboard")
	}
}

// Suspend drops all key events until Resume
func (in *Input) Suspend() {
	in.suspended.Store(true)
}

// Resume delivers events again and reopens keyboards that went away while suspended
func (in *Input) Resume() error {
	in.lock.Lock()
	for _, kb := range in.keyboards {
		kb.keys.Reset()
	}
	in.lock.Unlock()
	in.suspended.Store(false)
	return in.openKeyboards()
}

// Keyboards returns how many keyboards are being read
func (in *Input) Keyboards() int {
	in.lock.Lock()
	defer in.lock.Unlock()
	return len(in.keyboards)
}
