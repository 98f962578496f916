package compositor

import (
	"image"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/render"
)

// translated draws an element relative to an output that doesn't sit at 0,0
type translated struct {
	render.Element
	offset image.Point
}

func (t translated) Geometry() image.Rectangle {
	return t.Element.Geometry().Sub(t.offset)
}

func (t translated) Draw(dc *gg.Context) error {
	dc.Push()
	defer dc.Pop()
	dc.Translate(-float64(t.offset.X), -float64(t.offset.Y))
	return t.Element.Draw(dc)
}
