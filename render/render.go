// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package render draws render elements into scanout buffers
package render

import (
	"image"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/kms"
)

type Color = gg.RGBA

// DRM fourcc codes
const (
	FormatXRGB8888 = uint32('X') | uint32('R')<<8 | uint32('2')<<16 | uint32('4')<<24
	FormatARGB8888 = uint32('A') | uint32('R')<<8 | uint32('2')<<16 | uint32('4')<<24
)

// Element is one drawable thing in a frame.
// Commit must change whenever the element looks different than before
type Element interface {
	ID() uint64
	Geometry() image.Rectangle
	Commit() uint64
	Draw(dc *gg.Context) error
}

// Frame describes how a finished render has to be handled
type Frame struct {
	// The target may only be scanned out after waiting on a fence
	NeedsSync bool
}

type Renderer interface {
	Name() string
	// Render draws elements front to back over clear into target
	Render(target kms.Buffer, elements []Element, clear Color) (Frame, error)
	// ImportFormats lists the client buffer formats this renderer can sample from
	ImportFormats() []uint32
	Close() error
}
