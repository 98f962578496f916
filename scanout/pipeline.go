// Package scanout composites render elements into the buffers of a kms surface and flips them on screen
package scanout

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/render"
)

var (
	// ErrExplicitSync is returned when the renderer needs a fence wait before scanout, which isn't supported
	ErrExplicitSync  = errors.New("frame needs explicit sync")
	ErrNothingQueued = errors.New("no rendered frame to queue")
	ErrClosed        = errors.New("pipeline closed")
)

type OutcomeKind int

const (
	Submitted = OutcomeKind(iota)
	Failed
)

func (k OutcomeKind) String() string {
	if k == Submitted {
		return "submitted"
	}
	return "failed"
}

// Outcome of one RenderFrame call
type Outcome struct {
	Kind      OutcomeKind
	HasDamage bool
	Err       error
}

func SubmittedOutcome(hasDamage bool) Outcome {
	return Outcome{Kind: Submitted, HasDamage: hasDamage}
}

func FailedOutcome(err error) Outcome {
	return Outcome{Kind: Failed, Err: err}
}

func (o Outcome) String() string {
	switch {
	case o.Kind == Failed:
		return fmt.Sprintf("failed: %v", o.Err)
	case o.HasDamage:
		return "submitted with damage"
	default:
		return "submitted without damage"
	}
}

type elementState struct {
	id       uint64
	commit   uint64
	geometry image.Rectangle
}

type frameState struct {
	clear    render.Color
	elements []elementState
}

func snapshot(elements []render.Element, clear render.Color) frameState {
	state := frameState{clear: clear, elements: make([]elementState, 0, len(elements))}
	for _, el := range elements {
		state.elements = append(state.elements, elementState{
			id:       el.ID(),
			commit:   el.Commit(),
			geometry: el.Geometry(),
		})
	}
	return state
}

func (f frameState) equal(other frameState) bool {
	return f.clear == other.clear && slices.Equal(f.elements, other.elements)
}

type Pipeline struct {
	surface  kms.Surface
	renderer render.Renderer

	last     *frameState
	rendered kms.Buffer
	closed   bool
}

func New(surface kms.Surface, renderer render.Renderer) *Pipeline {
	return &Pipeline{surface: surface, renderer: renderer}
}

func (p *Pipeline) Surface() kms.Surface { return p.surface }

// RenderFrame draws the elements into the back buffer unless nothing changed since the last frame.
// A frame with damage has to be put on screen with QueueFrame
func (p *Pipeline) RenderFrame(elements []render.Element, clear render.Color) Outcome {
	if p.closed {
		return FailedOutcome(ErrClosed)
	}
	state := snapshot(elements, clear)
	if p.last != nil && p.last.equal(state) {
		return SubmittedOutcome(false)
	}
	buf, err := p.surface.NextBuffer()
	if err != nil {
		return FailedOutcome(err)
	}
	frame, err := p.renderer.Render(buf, elements, clear)
	if err != nil {
		return FailedOutcome(fmt.Errorf("%s renderer failed: %w", p.renderer.Name(), err))
	}
	if frame.NeedsSync {
		return FailedOutcome(ErrExplicitSync)
	}
	p.last = &state
	p.rendered = buf
	return SubmittedOutcome(true)
}

// QueueFrame flips the last rendered buffer on screen at the next vblank.
// If that fails the frame is dropped and the next RenderFrame draws again
func (p *Pipeline) QueueFrame() error {
	if p.closed {
		return ErrClosed
	}
	if p.rendered == nil {
		return ErrNothingQueued
	}
	buf := p.rendered
	p.rendered = nil
	if err := p.surface.PageFlip(buf); err != nil {
		p.last = nil
		return err
	}
	return nil
}

// FrameSubmitted marks the queued frame as on screen
func (p *Pipeline) FrameSubmitted() {
	p.surface.FlipDone()
}

// Reset forces the next RenderFrame to draw, even without damage
func (p *Pipeline) Reset() {
	p.last = nil
}

func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.rendered = nil
	return p.surface.Close()
}
