package output

import (
	"fmt"
	"image"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/sirupsen/logrus"
)

type Subpixel int

const (
	SubpixelUnknown = Subpixel(iota)
	SubpixelNone
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
)

// Physical properties of a monitor
type Physical struct {
	Width    uint32 // mm
	Height   uint32 // mm
	Make     string
	Model    string
	Subpixel Subpixel
}

// Output is the compositor facing description of a driven connector
type Output struct {
	Name          string
	Physical      Physical
	PreferredMode kms.Mode
	CurrentMode   kms.Mode
	Origin        image.Point
}

// NewOutput describes a selection. Display info is looked up from the device's EDID,
// failures fall back to UnknownDisplay
func NewOutput(dev kms.Device, sel Selection) *Output {
	info := UnknownDisplay
	if raw, err := dev.EDID(sel.Connector.Handle); err != nil {
		logrus.WithError(err).WithField("connector", sel.Connector.Name()).Debugln("Failed to read EDID")
	} else if raw != nil {
		if parsed, err := ParseEDID(raw); err != nil {
			logrus.WithError(err).WithField("connector", sel.Connector.Name()).Debugln("Ignoring EDID")
		} else {
			info = parsed
		}
	}
	preferred := sel.Mode
	if !preferred.Preferred() {
		if m, ok := PreferredMode(sel.Connector.Modes); ok {
			preferred = m
		}
	}
	return &Output{
		Name: sel.Connector.Name(),
		Physical: Physical{
			Width:    sel.Connector.MMWidth,
			Height:   sel.Connector.MMHeight,
			Make:     info.Make,
			Model:    info.Model,
			Subpixel: SubpixelUnknown,
		},
		PreferredMode: preferred,
		CurrentMode:   sel.Mode,
	}
}

// Geometry is the area the output covers in compositor space
func (o *Output) Geometry() image.Rectangle {
	return image.Rect(0, 0, int(o.CurrentMode.Width), int(o.CurrentMode.Height)).Add(o.Origin)
}

func (o *Output) String() string {
	return fmt.Sprintf("%s (%s %s) %s at %d,%d", o.Name, o.Physical.Make, o.Physical.Model,
		o.CurrentMode, o.Origin.X, o.Origin.Y)
}
