// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package backend defines what the compositor needs from whatever presents its frames
package backend

import "github.com/mstarongithub/tsuki/render"

// Capability is implemented by every backend variant
type Capability interface {
	// SeatName is the seat the backend's devices belong to
	SeatName() string
	// Renderer is nil while the backend has nothing to render to
	Renderer() render.Renderer
	// Render presents the elements. Without a renderer it does nothing
	Render(elements []render.Element)
	// Init discovers the initial devices and starts following hot-plug. Called exactly once
	Init() error
}
