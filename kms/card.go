// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"context"
	"fmt"
	"os"

	"github.com/NeowayLabs/drm/mode"
	"github.com/sirupsen/logrus"
)

// Plane "type" property values
const (
	planeTypeOverlay = 0
	planeTypePrimary = 1
	planeTypeCursor  = 2
)

// Card is a Device backed by an opened /dev/dri/card* node.
// The file itself belongs to whoever opened it (usually the session), Close leaves it open
type Card struct {
	file     *os.File
	active   bool
	surfaces map[uint32]*dumbSurface
}

var _ Device = (*Card)(nil)

// Open prepares an already opened card for mode setting
func Open(file *os.File) (*Card, error) {
	if err := setClientCap(file, clientCapUniversalPlanes, 1); err != nil {
		// Without universal planes only overlays get listed, which is still usable
		logrus.WithError(err).WithField("path", file.Name()).Warningln("Device doesn't support universal planes")
	}
	if _, err := mode.GetResources(file); err != nil {
		return nil, fmt.Errorf("%s is not a mode setting device: %w", file.Name(), err)
	}
	return &Card{
		file:     file,
		active:   true,
		surfaces: make(map[uint32]*dumbSurface),
	}, nil
}

func (c *Card) ResourceHandles() (Resources, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get resources: %w", err)
	}
	return Resources{
		Connectors: res.Connectors,
		Encoders:   res.Encoders,
		CRTCs:      res.Crtcs,
	}, nil
}

func (c *Card) Connector(handle uint32) (Connector, error) {
	conn, err := mode.GetConnector(c.file, handle)
	if err != nil {
		return Connector{}, fmt.Errorf("failed to get connector %d: %w", handle, err)
	}
	modes := make([]Mode, 0, len(conn.Modes))
	for _, info := range conn.Modes {
		modes = append(modes, ModeFromInfo(info))
	}
	return Connector{
		Handle:      conn.ID,
		Interface:   Interface(conn.Type),
		InterfaceID: conn.TypeID,
		State:       ConnectorState(conn.Connection),
		MMWidth:     conn.Width,
		MMHeight:    conn.Height,
		Modes:       modes,
		Encoders:    conn.Encoders,
	}, nil
}

func (c *Card) Encoder(handle uint32) (Encoder, error) {
	enc, err := mode.GetEncoder(c.file, handle)
	if err != nil {
		return Encoder{}, fmt.Errorf("failed to get encoder %d: %w", handle, err)
	}
	return Encoder{Handle: enc.ID, PossibleCRTCs: enc.PossibleCrtcs}, nil
}

// property looks up a named property of a kernel object. ok is false if the object doesn't have it
func (c *Card) property(object, objectType uint32, name string) (value uint64, ok bool, err error) {
	ids, values, err := objectProperties(c.file, object, objectType)
	if err != nil {
		return 0, false, err
	}
	for i, id := range ids {
		propName, err := propertyName(c.file, id)
		if err != nil {
			return 0, false, err
		}
		if propName == name {
			return values[i], true, nil
		}
	}
	return 0, false, nil
}

func (c *Card) Planes(crtc uint32) (Planes, error) {
	res, err := c.ResourceHandles()
	if err != nil {
		return Planes{}, err
	}
	index := -1
	for i, h := range res.CRTCs {
		if h == crtc {
			index = i
			break
		}
	}
	if index < 0 {
		return Planes{}, fmt.Errorf("crtc %d doesn't belong to this device", crtc)
	}

	ids, err := planeIDs(c.file)
	if err != nil {
		return Planes{}, fmt.Errorf("failed to get plane resources: %w", err)
	}
	var planes Planes
	for _, id := range ids {
		possible, err := planePossibleCRTCs(c.file, id)
		if err != nil {
			return Planes{}, fmt.Errorf("failed to get plane %d: %w", id, err)
		}
		if possible&(1<<uint(index)) == 0 {
			continue
		}
		typ, ok, err := c.property(id, objectPlane, "type")
		if err != nil {
			return Planes{}, fmt.Errorf("failed to get type of plane %d: %w", id, err)
		}
		if !ok {
			typ = planeTypeOverlay
		}
		switch typ {
		case planeTypePrimary:
			planes.Primary = append(planes.Primary, id)
		case planeTypeCursor:
			planes.Cursor = append(planes.Cursor, id)
		default:
			planes.Overlay = append(planes.Overlay, id)
		}
	}
	return planes, nil
}

func (c *Card) EDID(connector uint32) ([]byte, error) {
	blobID, ok, err := c.property(connector, objectConnector, "EDID")
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of connector %d: %w", connector, err)
	}
	if !ok || blobID == 0 {
		return nil, nil
	}
	data, err := blobData(c.file, uint32(blobID))
	if err != nil {
		return nil, fmt.Errorf("failed to read EDID blob of connector %d: %w", connector, err)
	}
	return data, nil
}

func (c *Card) CreateSurface(crtc uint32, m Mode, connectors []uint32) (Surface, error) {
	if !c.active {
		return nil, ErrInactive
	}
	if _, ok := c.surfaces[crtc]; ok {
		return nil, ErrCrtcInUse
	}
	if len(connectors) == 0 {
		return nil, fmt.Errorf("surface on crtc %d needs at least one connector", crtc)
	}
	s, err := newDumbSurface(c, crtc, m, connectors)
	if err != nil {
		return nil, err
	}
	c.surfaces[crtc] = s
	return s, nil
}

func (c *Card) Listen(ctx context.Context, handler func(Event)) error {
	return readEvents(ctx, c.file, handler)
}

// Pause stops all mode setting until the next Activate. Used while the session is inactive
func (c *Card) Pause() {
	c.active = false
	for _, s := range c.surfaces {
		// A flip in flight at pause time never completes
		s.FlipDone()
	}
}

// Activate resumes mode setting. With force, every surface gets its mode restored right away,
// since whatever ran on the vt in the meantime may have changed it
func (c *Card) Activate(force bool) error {
	c.active = true
	if !force {
		return nil
	}
	for crtc, s := range c.surfaces {
		if err := s.restore(); err != nil {
			return fmt.Errorf("failed to restore crtc %d: %w", crtc, err)
		}
	}
	return nil
}

func (c *Card) Close() error {
	var firstErr error
	for _, s := range c.surfaces {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
