// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package kms wraps the kernel mode setting interface of a DRM device.
//
// The Device interface is everything the output selection and the scanout pipeline need from a card.
// Card implements it on top of the DRM ioctls, tests implement it with fakes.
package kms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NeowayLabs/drm/mode"
)

var (
	ErrInactive    = errors.New("device is paused")
	ErrFlipPending = errors.New("page flip still pending")
	ErrCrtcInUse   = errors.New("crtc already drives a surface")
)

// Interface is the physical connector type (DRM_MODE_CONNECTOR_*)
type Interface uint32

const (
	InterfaceUnknown = Interface(iota)
	InterfaceVGA
	InterfaceDVII
	InterfaceDVID
	InterfaceDVIA
	InterfaceComposite
	InterfaceSVideo
	InterfaceLVDS
	InterfaceComponent
	InterfaceNinePinDIN
	InterfaceDisplayPort
	InterfaceHDMIA
	InterfaceHDMIB
	InterfaceTV
	InterfaceEmbeddedDisplayPort
	InterfaceVirtual
	InterfaceDSI
	InterfaceDPI
	InterfaceWriteback
	InterfaceSPI
	InterfaceUSB
)

// Same names the kernel uses for connectors in sysfs
var interfaceNames = [...]string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO", "LVDS", "Component",
	"DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP", "Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

func (i Interface) String() string {
	if int(i) < len(interfaceNames) {
		return interfaceNames[i]
	}
	return fmt.Sprintf("Interface(%d)", uint32(i))
}

// ParseInterface maps a kernel connector name (case insensitive) back to its Interface
func ParseInterface(name string) (Interface, error) {
	for i, n := range interfaceNames {
		if strings.EqualFold(n, name) {
			return Interface(i), nil
		}
	}
	return InterfaceUnknown, fmt.Errorf("unknown connector interface %q", name)
}

type ConnectorState uint8

const (
	Connected         = ConnectorState(mode.Connected)
	Disconnected      = ConnectorState(mode.Disconnected)
	UnknownConnection = ConnectorState(mode.UnknownConnection)
)

func (s ConnectorState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DRM_MODE_TYPE_PREFERRED
const ModeTypePreferred = 1 << 3

type Mode struct {
	Name    string
	Width   uint16
	Height  uint16
	Refresh uint32 // Vertical refresh in Hz
	Clock   uint32 // Pixel clock in kHz
	HTotal  uint16
	VTotal  uint16
	Type    uint32
	Flags   uint32

	raw *mode.Info
}

// ModeFromInfo converts a mode as reported by the kernel
func ModeFromInfo(info mode.Info) Mode {
	name, _, _ := strings.Cut(string(info.Name[:]), "\x00")
	raw := info
	return Mode{
		Name:    name,
		Width:   info.Hdisplay,
		Height:  info.Vdisplay,
		Refresh: info.Vrefresh,
		Clock:   info.Clock,
		HTotal:  info.Htotal,
		VTotal:  info.Vtotal,
		Type:    info.Type,
		Flags:   info.Flags,
		raw:     &raw,
	}
}

func (m Mode) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

// RefreshMilliHz derives the exact refresh rate from the timings, falling back to the rounded one
func (m Mode) RefreshMilliHz() int {
	if m.Clock == 0 || m.HTotal == 0 || m.VTotal == 0 {
		return int(m.Refresh) * 1000
	}
	total := uint64(m.HTotal) * uint64(m.VTotal)
	return int((uint64(m.Clock)*1_000_000 + total/2) / total)
}

// Info returns the kernel representation, synthesizing one for modes that weren't read from a device
func (m Mode) Info() mode.Info {
	if m.raw != nil {
		return *m.raw
	}
	info := mode.Info{
		Clock:    m.Clock,
		Hdisplay: m.Width,
		Vdisplay: m.Height,
		Htotal:   m.HTotal,
		Vtotal:   m.VTotal,
		Vrefresh: m.Refresh,
		Type:     m.Type,
		Flags:    m.Flags,
	}
	copy(info.Name[:], m.Name)
	return info
}

func (m Mode) String() string {
	pref := ""
	if m.Preferred() {
		pref = " (preferred)"
	}
	return fmt.Sprintf("%dx%d@%d%s", m.Width, m.Height, m.Refresh, pref)
}

type Connector struct {
	Handle      uint32
	Interface   Interface
	InterfaceID uint32
	State       ConnectorState
	// Physical size in millimeters, zero if unknown
	MMWidth  uint32
	MMHeight uint32
	Modes    []Mode
	Encoders []uint32
}

func (c Connector) Name() string {
	return fmt.Sprintf("%s-%d", c.Interface, c.InterfaceID)
}

type Encoder struct {
	Handle        uint32
	PossibleCRTCs uint32 // Bitmask over Resources.CRTCs
}

type Resources struct {
	Connectors []uint32
	Encoders   []uint32
	CRTCs      []uint32
}

// FilterCRTCs resolves an encoder's possible_crtcs bitmask, keeping resource order
func (r Resources) FilterCRTCs(mask uint32) []uint32 {
	var crtcs []uint32
	for i, crtc := range r.CRTCs {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			crtcs = append(crtcs, crtc)
		}
	}
	return crtcs
}

// Planes usable by one crtc, sorted by plane type
type Planes struct {
	Primary []uint32
	Cursor  []uint32
	Overlay []uint32
}

type EventKind int

const (
	EventVBlank = EventKind(iota)
	EventError
)

type Event struct {
	Kind     EventKind
	CRTC     uint32
	Sequence uint32
	Time     time.Time
	Err      error
}

// Buffer is one XRGB8888 scanout buffer
type Buffer interface {
	Width() int
	Height() int
	Stride() int
	Pixels() []byte
}

// Surface is a crtc driven with a fixed mode and set of connectors, double buffered
type Surface interface {
	CRTC() uint32
	Mode() Mode
	Connectors() []uint32
	// NextBuffer returns the buffer not currently on screen
	NextBuffer() (Buffer, error)
	// PageFlip schedules buf for the next vblank. Completion arrives as an EventVBlank
	PageFlip(buf Buffer) error
	// FlipDone marks the pending flip as completed
	FlipDone()
	Close() error
}

type Device interface {
	ResourceHandles() (Resources, error)
	Connector(handle uint32) (Connector, error)
	Encoder(handle uint32) (Encoder, error)
	Planes(crtc uint32) (Planes, error)
	// EDID returns the raw EDID blob of a connector, nil if it has none
	EDID(connector uint32) ([]byte, error)
	CreateSurface(crtc uint32, m Mode, connectors []uint32) (Surface, error)
	// Listen delivers device events until ctx is done
	Listen(ctx context.Context, handler func(Event)) error
	Pause()
	Activate(force bool) error
	Close() error
}
