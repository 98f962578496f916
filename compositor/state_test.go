package compositor

import (
	"image"
	"testing"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	frames [][]render.Element
}

func (f *fakeBackend) SeatName() string                 { return "seat0" }
func (f *fakeBackend) Renderer() render.Renderer        { return nil }
func (f *fakeBackend) Render(elements []render.Element) { f.frames = append(f.frames, elements) }
func (f *fakeBackend) Init() error                      { return nil }

func testOutput(name string) *output.Output {
	return &output.Output{Name: name, CurrentMode: kms.Mode{Width: 100, Height: 50}}
}

func TestOutputsRegisterGlobals(t *testing.T) {
	s := New(evloop.New(nil))
	out := testOutput("eDP-1")
	s.AddOutput(out)
	s.AddOutput(out)
	require.Len(t, s.Registry.Find(OutputInterface), 1)
	assert.Equal(t, []*output.Output{out}, s.Outputs())

	s.RemoveOutput(out)
	s.RemoveOutput(out)
	assert.Empty(t, s.Registry.Find(OutputInterface))
	assert.Empty(t, s.Outputs())
}

func TestImportGlobal(t *testing.T) {
	s := New(evloop.New(nil))
	r := render.NewSoftware()
	s.BindImport(r)
	globals := s.Registry.Find(ImportInterface)
	require.Len(t, globals, 1)
	assert.Equal(t, r.ImportFormats(), globals[0].Data)

	s.BindImport(r)
	assert.Len(t, s.Registry.Find(ImportInterface), 1)
	s.UnbindImport(r)
	s.UnbindImport(r)
	assert.Empty(t, s.Registry.Globals())
}

func TestQueueRedrawCoalesces(t *testing.T) {
	loop := evloop.New(nil)
	s := New(loop)
	b := &fakeBackend{}
	s.SetBackend(b)

	s.QueueRedraw()
	s.QueueRedraw()
	s.QueueRedraw()
	assert.Equal(t, 1, loop.Dispatch())
	assert.Len(t, b.frames, 1)

	s.QueueRedraw()
	loop.Dispatch()
	assert.Len(t, b.frames, 2)
	assert.Equal(t, 2, s.Redraws())
}

func TestRedrawWithoutBackend(t *testing.T) {
	s := New(evloop.New(nil))
	s.Redraw()
	assert.Equal(t, 0, s.Redraws())
}

func TestElementsPointerOnTop(t *testing.T) {
	s := New(evloop.New(nil))
	out := testOutput("eDP-1")
	s.AddOutput(out)
	inside := render.NewSolidColor(image.Rect(10, 10, 20, 20), gg.RGBA{B: 1, A: 1})
	outside := render.NewSolidColor(image.Rect(200, 200, 220, 220), gg.RGBA{G: 1, A: 1})
	s.Space.MapElement(inside)
	s.Space.MapElement(outside)

	elements := s.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, inside.ID(), elements[0].ID())
	assert.Equal(t, image.Rect(0, 0, 16, 16), elements[1].Geometry())

	s.MovePointer(image.Pt(5, 6))
	assert.Equal(t, image.Rect(5, 6, 21, 22), s.Elements()[1].Geometry())

	assert.True(t, s.Space.UnmapElement(inside))
	assert.False(t, s.Space.UnmapElement(inside))
	assert.Len(t, s.Elements(), 1)
}

func TestElementsTranslatedForOrigin(t *testing.T) {
	s := New(evloop.New(nil))
	out := testOutput("HDMI-A-1")
	out.Origin = image.Pt(100, 0)
	s.AddOutput(out)
	el := render.NewSolidColor(image.Rect(110, 10, 120, 20), gg.RGBA{A: 1})
	s.Space.MapElement(el)

	elements := s.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, image.Rect(10, 10, 20, 20), elements[0].Geometry())
	assert.Equal(t, el.ID(), elements[0].ID())
}

func TestRegistryNamesNotReused(t *testing.T) {
	r := NewRegistry()
	a := r.Register("a", 1, nil)
	require.True(t, r.Unregister(a))
	b := r.Register("b", 1, nil)
	assert.NotEqual(t, a, b)
	_, ok := r.Get(a)
	assert.False(t, ok)
	g, ok := r.Get(b)
	require.True(t, ok)
	assert.Equal(t, "b", g.Interface)
}
