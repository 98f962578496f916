package render

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/gg"
)

var nextID atomic.Uint64

// NewID hands out element ids unique for the process
func NewID() uint64 {
	return nextID.Add(1)
}

type SolidColor struct {
	id     uint64
	rect   image.Rectangle
	color  Color
	commit uint64
}

func NewSolidColor(rect image.Rectangle, color Color) *SolidColor {
	return &SolidColor{id: NewID(), rect: rect, color: color}
}

func (s *SolidColor) ID() uint64                { return s.id }
func (s *SolidColor) Geometry() image.Rectangle { return s.rect }
func (s *SolidColor) Commit() uint64            { return s.commit }

func (s *SolidColor) Update(rect image.Rectangle, color Color) {
	if rect == s.rect && color == s.color {
		return
	}
	s.rect = rect
	s.color = color
	s.commit++
}

func (s *SolidColor) Draw(dc *gg.Context) error {
	dc.SetRGBA(s.color.R, s.color.G, s.color.B, s.color.A)
	dc.DrawRectangle(float64(s.rect.Min.X), float64(s.rect.Min.Y), float64(s.rect.Dx()), float64(s.rect.Dy()))
	return dc.Fill()
}

// Texture draws a client image at a position
type Texture struct {
	id     uint64
	origin image.Point
	img    image.Image
	buf    *gg.ImageBuf
	commit uint64
}

func NewTexture(origin image.Point, img image.Image) *Texture {
	t := &Texture{id: NewID(), origin: origin}
	t.SetImage(img)
	return t
}

func (t *Texture) ID() uint64     { return t.id }
func (t *Texture) Commit() uint64 { return t.commit }

func (t *Texture) Geometry() image.Rectangle {
	if t.img == nil {
		return image.Rectangle{Min: t.origin, Max: t.origin}
	}
	return t.img.Bounds().Sub(t.img.Bounds().Min).Add(t.origin)
}

// SetImage replaces the content, counting as a new commit
func (t *Texture) SetImage(img image.Image) {
	t.img = img
	t.buf = nil
	if img != nil {
		t.buf = gg.ImageBufFromImage(img)
	}
	t.commit++
}

func (t *Texture) Move(origin image.Point) {
	if origin == t.origin {
		return
	}
	t.origin = origin
	t.commit++
}

func (t *Texture) Draw(dc *gg.Context) error {
	if t.buf == nil {
		return nil
	}
	dc.DrawImage(t.buf, float64(t.origin.X), float64(t.origin.Y))
	return nil
}
