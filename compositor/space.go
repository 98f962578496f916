package compositor

import (
	"image"
	"slices"

	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/render"
)

// Space is the 2d plane outputs and elements are placed on
type Space struct {
	outputs  []*output.Output
	elements []render.Element
}

func NewSpace() *Space {
	return &Space{}
}

// MapOutput places an output at origin, moving it if it is already mapped
func (s *Space) MapOutput(out *output.Output, origin image.Point) {
	out.Origin = origin
	if !slices.Contains(s.outputs, out) {
		s.outputs = append(s.outputs, out)
	}
}

func (s *Space) UnmapOutput(out *output.Output) bool {
	i := slices.Index(s.outputs, out)
	if i < 0 {
		return false
	}
	s.outputs = slices.Delete(s.outputs, i, i+1)
	return true
}

func (s *Space) Outputs() []*output.Output {
	return slices.Clone(s.outputs)
}

func (s *Space) OutputByName(name string) (*output.Output, bool) {
	for _, out := range s.outputs {
		if out.Name == name {
			return out, true
		}
	}
	return nil, false
}

// MapElement adds an element on top of the existing ones
func (s *Space) MapElement(el render.Element) {
	s.elements = append(s.elements, el)
}

func (s *Space) UnmapElement(el render.Element) bool {
	i := slices.IndexFunc(s.elements, func(e render.Element) bool { return e.ID() == el.ID() })
	if i < 0 {
		return false
	}
	s.elements = slices.Delete(s.elements, i, i+1)
	return true
}

// Elements returns the elements overlapping an output, front to back in drawing order,
// translated into the output's coordinates
func (s *Space) Elements(out *output.Output) []render.Element {
	area := out.Geometry()
	var visible []render.Element
	for _, el := range s.elements {
		if !el.Geometry().Overlaps(area) {
			continue
		}
		if out.Origin != (image.Point{}) {
			el = translated{Element: el, offset: out.Origin}
		}
		visible = append(visible, el)
	}
	return visible
}
