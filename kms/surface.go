// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"errors"
	"fmt"
	"os"

	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"
)

type dumbBuffer struct {
	handle uint32
	fbID   uint32
	width  int
	height int
	pitch  int
	data   []byte
}

func (b *dumbBuffer) Width() int     { return b.width }
func (b *dumbBuffer) Height() int    { return b.height }
func (b *dumbBuffer) Stride() int    { return b.pitch }
func (b *dumbBuffer) Pixels() []byte { return b.data }

func createDumbBuffer(file *os.File, width, height uint16) (*dumbBuffer, error) {
	fb, err := mode.CreateFB(file, width, height, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to create dumb buffer: %w", err)
	}
	buf := &dumbBuffer{
		handle: fb.Handle,
		width:  int(width),
		height: int(height),
		pitch:  int(fb.Pitch),
	}
	buf.fbID, err = mode.AddFB(file, width, height, 24, 32, fb.Pitch, fb.Handle)
	if err != nil {
		_ = mode.DestroyDumb(file, fb.Handle)
		return nil, fmt.Errorf("failed to add framebuffer: %w", err)
	}
	offset, err := mode.MapDumb(file, fb.Handle)
	if err != nil {
		buf.destroy(file)
		return nil, fmt.Errorf("failed to prepare dumb buffer mapping: %w", err)
	}
	buf.data, err = unix.Mmap(int(file.Fd()), int64(offset), int(fb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		buf.destroy(file)
		return nil, fmt.Errorf("failed to map dumb buffer: %w", err)
	}
	return buf, nil
}

func (b *dumbBuffer) destroy(file *os.File) error {
	var errs []error
	if b.data != nil {
		errs = append(errs, unix.Munmap(b.data))
		b.data = nil
	}
	if b.fbID != 0 {
		errs = append(errs, mode.RmFB(file, b.fbID))
		b.fbID = 0
	}
	errs = append(errs, mode.DestroyDumb(file, b.handle))
	return errors.Join(errs...)
}

// dumbSurface scans out of two CPU mapped dumb buffers, flipping between them
type dumbSurface struct {
	card       *Card
	crtc       uint32
	mode       Mode
	connectors []uint32
	buffers    [2]*dumbBuffer
	front      int
	queued     int // Index of the buffer waiting for its flip, -1 if none
}

func newDumbSurface(card *Card, crtc uint32, m Mode, connectors []uint32) (*dumbSurface, error) {
	s := &dumbSurface{
		card:       card,
		crtc:       crtc,
		mode:       m,
		connectors: append([]uint32(nil), connectors...),
		queued:     -1,
	}
	for i := range s.buffers {
		buf, err := createDumbBuffer(card.file, m.Width, m.Height)
		if err != nil {
			s.destroyBuffers()
			return nil, err
		}
		s.buffers[i] = buf
	}
	if err := s.restore(); err != nil {
		s.destroyBuffers()
		return nil, fmt.Errorf("failed to set mode %s on crtc %d: %w", m, crtc, err)
	}
	return s, nil
}

// restore does a full modeset with the front buffer
func (s *dumbSurface) restore() error {
	info := s.mode.Info()
	return mode.SetCrtc(s.card.file, s.crtc, s.buffers[s.front].fbID, 0, 0,
		&s.connectors[0], len(s.connectors), &info)
}

func (s *dumbSurface) CRTC() uint32         { return s.crtc }
func (s *dumbSurface) Mode() Mode           { return s.mode }
func (s *dumbSurface) Connectors() []uint32 { return s.connectors }

func (s *dumbSurface) NextBuffer() (Buffer, error) {
	if s.queued >= 0 {
		return nil, ErrFlipPending
	}
	return s.buffers[1-s.front], nil
}

func (s *dumbSurface) PageFlip(buf Buffer) error {
	if !s.card.active {
		return ErrInactive
	}
	if s.queued >= 0 {
		return ErrFlipPending
	}
	index := -1
	for i, b := range s.buffers {
		if Buffer(b) == buf {
			index = i
		}
	}
	if index < 0 {
		return fmt.Errorf("buffer doesn't belong to the surface on crtc %d", s.crtc)
	}
	if err := pageFlip(s.card.file, s.crtc, s.buffers[index].fbID, uint64(s.crtc)); err != nil {
		return fmt.Errorf("page flip on crtc %d failed: %w", s.crtc, err)
	}
	s.queued = index
	return nil
}

func (s *dumbSurface) FlipDone() {
	if s.queued < 0 {
		return
	}
	s.front = s.queued
	s.queued = -1
}

func (s *dumbSurface) destroyBuffers() error {
	var errs []error
	for i, buf := range s.buffers {
		if buf != nil {
			errs = append(errs, buf.destroy(s.card.file))
			s.buffers[i] = nil
		}
	}
	return errors.Join(errs...)
}

func (s *dumbSurface) Close() error {
	if _, ok := s.card.surfaces[s.crtc]; !ok {
		return nil
	}
	delete(s.card.surfaces, s.crtc)
	// Turn the crtc off so the buffers aren't scanned out anymore when they are freed
	offErr := mode.SetCrtc(s.card.file, s.crtc, 0, 0, 0, nil, 0, nil)
	return errors.Join(offErr, s.destroyBuffers())
}
