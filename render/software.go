package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/gg"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("renderer closed")

// Software renders on the cpu into mapped dumb buffers
type Software struct {
	dc     *gg.Context
	closed bool
}

var _ Renderer = (*Software)(nil)

func NewSoftware() *Software {
	return &Software{}
}

func (s *Software) Name() string { return "software" }

func (s *Software) ImportFormats() []uint32 {
	return []uint32{FormatARGB8888, FormatXRGB8888}
}

func (s *Software) Render(target kms.Buffer, elements []Element, clear Color) (Frame, error) {
	if s.closed {
		return Frame{}, ErrClosed
	}
	w, h := target.Width(), target.Height()
	if s.dc == nil || s.dc.Width() != w || s.dc.Height() != h {
		if s.dc != nil {
			s.dc.Close()
		}
		s.dc = gg.NewContext(w, h)
	}
	s.dc.ClearWithColor(clear)
	for _, el := range elements {
		if err := el.Draw(s.dc); err != nil {
			logrus.WithError(err).WithField("element", el.ID()).Warningln("Failed to draw element")
		}
	}
	if err := s.dc.FlushGPU(); err != nil {
		return Frame{}, fmt.Errorf("failed to flush drawing: %w", err)
	}
	if err := CopyToXRGB(target, s.dc.ResizeTarget().Data(), w*4); err != nil {
		return Frame{}, err
	}
	return Frame{}, nil
}

func (s *Software) Close() error {
	s.closed = true
	if s.dc == nil {
		return nil
	}
	err := s.dc.Close()
	s.dc = nil
	return err
}

// CopyToXRGB converts premultiplied RGBA rows into a little endian XRGB8888 buffer
func CopyToXRGB(target kms.Buffer, rgba []byte, srcStride int) error {
	w, h, stride := target.Width(), target.Height(), target.Stride()
	dst := target.Pixels()
	if len(rgba) < srcStride*h || srcStride < w*4 {
		return fmt.Errorf("source has %d bytes, need %dx%d", len(rgba), w, h)
	}
	if len(dst) < stride*(h-1)+w*4 {
		return fmt.Errorf("target buffer too small for %dx%d with stride %d", w, h, stride)
	}
	for y := 0; y < h; y++ {
		src := rgba[y*srcStride : y*srcStride+w*4]
		row := dst[y*stride : y*stride+w*4]
		for x := 0; x < w*4; x += 4 {
			row[x+0] = src[x+2]
			row[x+1] = src[x+1]
			row[x+2] = src[x+0]
			row[x+3] = 0xff
		}
	}
	return nil
}
