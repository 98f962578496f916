// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package compositor is the part of the compositor the backends present for.
// It owns the space and the globals and builds the element list of every frame
package compositor

import (
	"image"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/backend"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/render"
	"github.com/sirupsen/logrus"
)

const (
	OutputInterface = "wl_output"
	ImportInterface = "zwp_linux_dmabuf_v1"
	pointerSize     = 16
)

var PointerColor = gg.RGBA{R: 1, G: 0.5, B: 0, A: 1}

// State must only be touched from the loop goroutine
type State struct {
	loop     *evloop.Loop
	Registry *Registry
	Space    *Space

	backend backend.Capability

	pointer       *render.SolidColor
	outputGlobals map[*output.Output]uint32
	importGlobal  uint32
	redrawQueued  bool
	redraws       int
}

func New(loop *evloop.Loop) *State {
	return &State{
		loop:          loop,
		Registry:      NewRegistry(),
		Space:         NewSpace(),
		pointer:       render.NewSolidColor(image.Rect(0, 0, pointerSize, pointerSize), PointerColor),
		outputGlobals: make(map[*output.Output]uint32),
	}
}

func (s *State) SetBackend(b backend.Capability) {
	s.backend = b
}

func (s *State) Backend() backend.Capability {
	return s.backend
}

// AddOutput advertises an output and maps it into the space at its origin
func (s *State) AddOutput(out *output.Output) {
	if _, ok := s.outputGlobals[out]; ok {
		return
	}
	s.outputGlobals[out] = s.Registry.Register(OutputInterface, 4, out)
	s.Space.MapOutput(out, out.Origin)
	logrus.WithField("output", out.String()).Infoln("Output added")
}

// RemoveOutput withdraws the output's global and unmaps it
func (s *State) RemoveOutput(out *output.Output) {
	name, ok := s.outputGlobals[out]
	if !ok {
		return
	}
	delete(s.outputGlobals, out)
	s.Registry.Unregister(name)
	s.Space.UnmapOutput(out)
	logrus.WithField("output", out.Name).Infoln("Output removed")
}

// BindImport advertises client buffer import backed by the renderer
func (s *State) BindImport(r render.Renderer) {
	if s.importGlobal != 0 {
		s.Registry.Unregister(s.importGlobal)
	}
	s.importGlobal = s.Registry.Register(ImportInterface, 4, r.ImportFormats())
}

func (s *State) UnbindImport(render.Renderer) {
	if s.importGlobal == 0 {
		return
	}
	s.Registry.Unregister(s.importGlobal)
	s.importGlobal = 0
}

// Outputs lists the outputs currently advertised
func (s *State) Outputs() []*output.Output {
	return s.Space.Outputs()
}

// MovePointer places the pointer square
func (s *State) MovePointer(p image.Point) {
	s.pointer.Update(image.Rect(p.X, p.Y, p.X+pointerSize, p.Y+pointerSize), PointerColor)
	s.QueueRedraw()
}

// QueueRedraw schedules a Redraw on the loop. Multiple requests before it ran collapse into one
func (s *State) QueueRedraw() {
	if s.redrawQueued {
		return
	}
	s.redrawQueued = true
	if err := s.loop.Post(func() {
		s.redrawQueued = false
		s.Redraw()
	}); err != nil {
		s.redrawQueued = false
	}
}

// Redraw hands the current frame to the backend
func (s *State) Redraw() {
	if s.backend == nil {
		return
	}
	s.redraws++
	s.backend.Render(s.Elements())
}

// Redraws counts how often the backend was asked to render
func (s *State) Redraws() int {
	return s.redraws
}

// Elements builds the frame for the first output: the space's elements with the pointer on top
func (s *State) Elements() []render.Element {
	outputs := s.Space.Outputs()
	if len(outputs) == 0 {
		return []render.Element{s.pointer}
	}
	elements := s.Space.Elements(outputs[0])
	var pointer render.Element = s.pointer
	if origin := outputs[0].Origin; origin != (image.Point{}) {
		pointer = translated{Element: s.pointer, offset: origin}
	}
	return append(elements, pointer)
}

// Stop ends the event loop
func (s *State) Stop() {
	logrus.Infoln("Stopping compositor")
	s.loop.Stop()
}
