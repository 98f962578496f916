package scanout

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/kms/kmstest"
	"github.com/mstarongithub/tsuki/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	renders   int
	needsSync bool
	err       error
}

func (f *fakeRenderer) Name() string            { return "fake" }
func (f *fakeRenderer) ImportFormats() []uint32 { return nil }
func (f *fakeRenderer) Close() error            { return nil }

func (f *fakeRenderer) Render(kms.Buffer, []render.Element, render.Color) (render.Frame, error) {
	f.renders++
	return render.Frame{NeedsSync: f.needsSync}, f.err
}

var grey = gg.RGBA{R: .1, G: .1, B: .1, A: 1}

func newPipeline(t *testing.T) (*Pipeline, *kmstest.Surface, *fakeRenderer) {
	dev := kmstest.SimpleDevice()
	s, err := dev.CreateSurface(30, kms.Mode{Width: 8, Height: 8}, []uint32{10})
	require.NoError(t, err)
	r := &fakeRenderer{}
	return New(s, r), s.(*kmstest.Surface), r
}

func TestRenderFrameDamage(t *testing.T) {
	p, surface, r := newPipeline(t)
	square := render.NewSolidColor(image.Rect(0, 0, 4, 4), gg.RGBA{R: 1, A: 1})
	elements := []render.Element{square}

	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(elements, grey))
	require.NoError(t, p.QueueFrame())
	assert.Equal(t, 1, surface.Flips)
	p.FrameSubmitted()

	assert.Equal(t, SubmittedOutcome(false), p.RenderFrame(elements, grey))
	assert.Equal(t, 1, r.renders)
	assert.ErrorIs(t, p.QueueFrame(), ErrNothingQueued)

	square.Update(image.Rect(1, 1, 5, 5), gg.RGBA{R: 1, A: 1})
	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(elements, grey))
	require.NoError(t, p.QueueFrame())
	p.FrameSubmitted()

	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(elements, gg.RGBA{A: 1}))
	require.NoError(t, p.QueueFrame())
	p.FrameSubmitted()

	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(nil, gg.RGBA{A: 1}))
	assert.Equal(t, 4, r.renders)
}

func TestRenderFrameWhileFlipPending(t *testing.T) {
	p, _, _ := newPipeline(t)
	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(nil, grey))
	require.NoError(t, p.QueueFrame())

	out := p.RenderFrame(nil, gg.RGBA{A: 1})
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, kms.ErrFlipPending)
}

func TestQueueFailureDropsFrame(t *testing.T) {
	p, surface, r := newPipeline(t)
	surface.FlipErr = errors.New("flip failed")
	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(nil, grey))
	assert.Error(t, p.QueueFrame())

	surface.FlipErr = nil
	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(nil, grey))
	require.NoError(t, p.QueueFrame())
	assert.Equal(t, 2, r.renders)
}

func TestExplicitSync(t *testing.T) {
	p, _, r := newPipeline(t)
	r.needsSync = true
	out := p.RenderFrame(nil, grey)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, ErrExplicitSync)
	assert.ErrorIs(t, p.QueueFrame(), ErrNothingQueued)
}

func TestRendererError(t *testing.T) {
	p, _, r := newPipeline(t)
	r.err = errors.New("boom")
	out := p.RenderFrame(nil, grey)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, r.err)
}

func TestCloseAndReset(t *testing.T) {
	p, surface, r := newPipeline(t)
	p.RenderFrame(nil, grey)
	p.Reset()
	assert.Equal(t, SubmittedOutcome(true), p.RenderFrame(nil, grey))
	assert.Equal(t, 2, r.renders)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, surface.IsClosed)
	assert.ErrorIs(t, p.RenderFrame(nil, grey).Err, ErrClosed)
	assert.ErrorIs(t, p.QueueFrame(), ErrClosed)
}
