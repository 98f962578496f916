// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package output picks what an opened device drives: one connector, one mode and one crtc.
//
// The choice is deterministic. Of all connected connectors accepted by the filter the last one wins,
// of its modes the preferred one with the highest refresh rate (or the first one if none is preferred)
// and of the crtcs reachable through its encoders the first that accepts a surface,
// where crtcs with more overlay planes get tried first.
package output

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

var (
	ErrNoCompatibleDisplay    = errors.New("no compatible display connected")
	ErrNoUsableMode           = errors.New("connector has no usable mode")
	ErrNoUsableOutputPipeline = errors.New("no crtc accepted a scanout surface")
)

// ConnectorFilter decides which connected connectors may be driven
type ConnectorFilter func(kms.Connector) bool

// AnyInterface accepts every connector
func AnyInterface(kms.Connector) bool { return true }

// InterfaceFilter accepts connectors of the given physical types
func InterfaceFilter(interfaces ...kms.Interface) ConnectorFilter {
	return func(c kms.Connector) bool {
		return slices.Contains(interfaces, c.Interface)
	}
}

// ParseConnectorFilter builds a filter from interface names like "eDP" or "HDMI-A".
// "*" accepts everything, an empty list means the default of eDP only
func ParseConnectorFilter(names []string) (ConnectorFilter, error) {
	if len(names) == 0 {
		return InterfaceFilter(kms.InterfaceEmbeddedDisplayPort), nil
	}
	interfaces := make([]kms.Interface, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "*" {
			return AnyInterface, nil
		}
		i, err := kms.ParseInterface(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		interfaces = append(interfaces, i)
	}
	return InterfaceFilter(interfaces...), nil
}

// Selection is the result of a successful Select. The handles in it belong to the device
// it was made for and are never valid for any other one
type Selection struct {
	Connector kms.Connector
	Mode      kms.Mode
	CRTC      uint32
	Planes    kms.Planes
	Surface   kms.Surface
}

type Selector struct {
	Filter ConnectorFilter
}

func NewSelector(filter ConnectorFilter) *Selector {
	if filter == nil {
		filter = InterfaceFilter(kms.InterfaceEmbeddedDisplayPort)
	}
	return &Selector{Filter: filter}
}

// Select runs the whole selection against dev, including creating the surface on the chosen crtc
func (s *Selector) Select(dev kms.Device) (Selection, error) {
	res, err := dev.ResourceHandles()
	if err != nil {
		return Selection{}, err
	}
	connector, err := s.PickConnector(dev, res)
	if err != nil {
		return Selection{}, err
	}
	m, ok := PickMode(connector.Modes)
	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrNoUsableMode, connector.Name())
	}
	logrus.WithFields(logrus.Fields{
		"connector": connector.Name(),
		"mode":      m.String(),
	}).Debugln("Picked connector and mode")

	for _, crtc := range CandidateCRTCs(dev, res, connector) {
		surface, err := dev.CreateSurface(crtc, m, []uint32{connector.Handle})
		if err != nil {
			logrus.WithError(err).WithField("crtc", crtc).Debugln("Crtc didn't accept a surface")
			continue
		}
		planes, err := dev.Planes(crtc)
		if err != nil {
			logrus.WithError(err).WithField("crtc", crtc).Warningln("Failed to list planes of crtc")
		}
		return Selection{
			Connector: connector,
			Mode:      m,
			CRTC:      crtc,
			Planes:    planes,
			Surface:   surface,
		}, nil
	}
	return Selection{}, fmt.Errorf("%w: %s", ErrNoUsableOutputPipeline, connector.Name())
}

// PickConnector returns the last connected connector the filter accepts
func (s *Selector) PickConnector(dev kms.Device, res kms.Resources) (kms.Connector, error) {
	connectors := make([]kms.Connector, 0, len(res.Connectors))
	for _, handle := range res.Connectors {
		conn, err := dev.Connector(handle)
		if err != nil {
			logrus.WithError(err).WithField("connector", handle).Warningln("Failed to query connector")
			continue
		}
		connectors = append(connectors, conn)
	}
	usable := sliceutils.Filter(connectors, func(c kms.Connector) bool {
		return c.State == kms.Connected && s.Filter(c)
	})
	if len(usable) == 0 {
		return kms.Connector{}, ErrNoCompatibleDisplay
	}
	return usable[len(usable)-1], nil
}

// PreferredMode returns the preferred mode with the highest refresh rate, the first one on ties
func PreferredMode(modes []kms.Mode) (kms.Mode, bool) {
	var best kms.Mode
	found := false
	for _, m := range modes {
		if !m.Preferred() {
			continue
		}
		if !found || m.Refresh > best.Refresh {
			best = m
			found = true
		}
	}
	return best, found
}

// PickMode is PreferredMode, falling back to the first advertised mode
func PickMode(modes []kms.Mode) (kms.Mode, bool) {
	if m, ok := PreferredMode(modes); ok {
		return m, true
	}
	if len(modes) == 0 {
		return kms.Mode{}, false
	}
	return modes[0], true
}

// CandidateCRTCs lists the crtcs a connector could be driven by, in the order they should be tried.
// Per encoder the crtcs are sorted by descending overlay plane count, keeping the resource order on ties.
// The encoder lists are concatenated as is, a crtc reachable through several encoders shows up once per encoder
func CandidateCRTCs(dev kms.Device, res kms.Resources, connector kms.Connector) []uint32 {
	overlays := make(map[uint32]int)
	overlayCount := func(crtc uint32) int {
		if n, ok := overlays[crtc]; ok {
			return n
		}
		planes, err := dev.Planes(crtc)
		if err != nil {
			logrus.WithError(err).WithField("crtc", crtc).Debugln("Failed to list planes, assuming no overlays")
		}
		overlays[crtc] = len(planes.Overlay)
		return overlays[crtc]
	}

	var candidates []uint32
	for _, handle := range connector.Encoders {
		enc, err := dev.Encoder(handle)
		if err != nil {
			logrus.WithError(err).WithField("encoder", handle).Warningln("Failed to query encoder")
			continue
		}
		crtcs := res.FilterCRTCs(enc.PossibleCRTCs)
		slices.SortStableFunc(crtcs, func(a, b uint32) int {
			return overlayCount(b) - overlayCount(a)
		})
		candidates = append(candidates, crtcs...)
	}
	return candidates
}
