// Package kmstest provides in memory kms devices for tests
package kmstest

import (
	"context"
	"errors"
	"fmt"

	"github.com/mstarongithub/tsuki/kms"
)

var ErrRejected = errors.New("surface rejected")

type Buffer struct {
	W, H int
	Data []byte
}

func NewBuffer(w, h int) *Buffer {
	return &Buffer{W: w, H: h, Data: make([]byte, w*h*4)}
}

func (b *Buffer) Width() int     { return b.W }
func (b *Buffer) Height() int    { return b.H }
func (b *Buffer) Stride() int    { return b.W * 4 }
func (b *Buffer) Pixels() []byte { return b.Data }

type Surface struct {
	Dev      *Device
	Crtc     uint32
	M        kms.Mode
	Conns    []uint32
	Buffers  [2]*Buffer
	Front    int
	Pending  bool
	Flips    int
	FlipErr  error
	IsClosed bool
}

func (s *Surface) CRTC() uint32         { return s.Crtc }
func (s *Surface) Mode() kms.Mode       { return s.M }
func (s *Surface) Connectors() []uint32 { return s.Conns }

func (s *Surface) NextBuffer() (kms.Buffer, error) {
	if s.Pending {
		return nil, kms.ErrFlipPending
	}
	return s.Buffers[1-s.Front], nil
}

func (s *Surface) PageFlip(buf kms.Buffer) error {
	if s.FlipErr != nil {
		return s.FlipErr
	}
	if !s.Dev.Active {
		return kms.ErrInactive
	}
	if s.Pending {
		return kms.ErrFlipPending
	}
	s.Pending = true
	s.Flips++
	return nil
}

func (s *Surface) FlipDone() {
	if s.Pending {
		s.Front = 1 - s.Front
		s.Pending = false
	}
}

func (s *Surface) Close() error {
	s.IsClosed = true
	delete(s.Dev.Surfaces, s.Crtc)
	return nil
}

// Device is a scripted kms.Device. Fields may be changed between calls, but not concurrently with Listen
type Device struct {
	Res         kms.Resources
	Conns       map[uint32]kms.Connector
	ConnErrs    map[uint32]error
	Encs        map[uint32]kms.Encoder
	PlaneSets   map[uint32]kms.Planes
	PlaneErrs   map[uint32]error
	EDIDs       map[uint32][]byte
	RejectCRTCs map[uint32]bool

	Active   bool
	Closed   bool
	Surfaces map[uint32]*Surface
	// Every crtc CreateSurface was called with, in order
	Attempts []uint32
	Restores int

	events chan kms.Event
}

var _ kms.Device = (*Device)(nil)

func NewDevice() *Device {
	return &Device{
		Conns:       make(map[uint32]kms.Connector),
		ConnErrs:    make(map[uint32]error),
		Encs:        make(map[uint32]kms.Encoder),
		PlaneSets:   make(map[uint32]kms.Planes),
		PlaneErrs:   make(map[uint32]error),
		EDIDs:       make(map[uint32][]byte),
		RejectCRTCs: make(map[uint32]bool),
		Active:      true,
		Surfaces:    make(map[uint32]*Surface),
		events:      make(chan kms.Event, 16),
	}
}

// AddConnector registers a connector and lists it in the resources
func (d *Device) AddConnector(c kms.Connector) {
	d.Res.Connectors = append(d.Res.Connectors, c.Handle)
	d.Conns[c.Handle] = c
}

// AddEncoder registers an encoder able to drive the given crtcs. Crtcs not yet in the
// resources get appended
func (d *Device) AddEncoder(handle uint32, crtcs ...uint32) {
	var mask uint32
	for _, crtc := range crtcs {
		index := -1
		for i, h := range d.Res.CRTCs {
			if h == crtc {
				index = i
			}
		}
		if index < 0 {
			d.Res.CRTCs = append(d.Res.CRTCs, crtc)
			index = len(d.Res.CRTCs) - 1
		}
		mask |= 1 << uint(index)
	}
	d.Res.Encoders = append(d.Res.Encoders, handle)
	d.Encs[handle] = kms.Encoder{Handle: handle, PossibleCRTCs: mask}
}

func (d *Device) SetOverlays(crtc uint32, n int) {
	planes := kms.Planes{Primary: []uint32{crtc * 100}}
	for i := 0; i < n; i++ {
		planes.Overlay = append(planes.Overlay, crtc*100+uint32(i)+1)
	}
	d.PlaneSets[crtc] = planes
}

func (d *Device) ResourceHandles() (kms.Resources, error) {
	return d.Res, nil
}

func (d *Device) Connector(handle uint32) (kms.Connector, error) {
	if err := d.ConnErrs[handle]; err != nil {
		return kms.Connector{}, err
	}
	c, ok := d.Conns[handle]
	if !ok {
		return kms.Connector{}, fmt.Errorf("no connector %d", handle)
	}
	return c, nil
}

func (d *Device) Encoder(handle uint32) (kms.Encoder, error) {
	e, ok := d.Encs[handle]
	if !ok {
		return kms.Encoder{}, fmt.Errorf("no encoder %d", handle)
	}
	return e, nil
}

func (d *Device) Planes(crtc uint32) (kms.Planes, error) {
	if err := d.PlaneErrs[crtc]; err != nil {
		return kms.Planes{}, err
	}
	return d.PlaneSets[crtc], nil
}

func (d *Device) EDID(connector uint32) ([]byte, error) {
	return d.EDIDs[connector], nil
}

func (d *Device) CreateSurface(crtc uint32, m kms.Mode, connectors []uint32) (kms.Surface, error) {
	d.Attempts = append(d.Attempts, crtc)
	if !d.Active {
		return nil, kms.ErrInactive
	}
	if d.RejectCRTCs[crtc] {
		return nil, ErrRejected
	}
	if _, ok := d.Surfaces[crtc]; ok {
		return nil, kms.ErrCrtcInUse
	}
	s := &Surface{
		Dev:   d,
		Crtc:  crtc,
		M:     m,
		Conns: connectors,
		Buffers: [2]*Buffer{
			NewBuffer(int(m.Width), int(m.Height)),
			NewBuffer(int(m.Width), int(m.Height)),
		},
	}
	d.Surfaces[crtc] = s
	return s, nil
}

// Emit hands an event to the running Listen call
func (d *Device) Emit(ev kms.Event) {
	d.events <- ev
}

func (d *Device) Listen(ctx context.Context, handler func(kms.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.events:
			handler(ev)
		}
	}
}

func (d *Device) Pause() {
	d.Active = false
	for _, s := range d.Surfaces {
		s.FlipDone()
	}
}

func (d *Device) Activate(force bool) error {
	d.Active = true
	if force {
		d.Restores++
	}
	return nil
}

func (d *Device) Close() error {
	for _, s := range d.Surfaces {
		s.Close()
	}
	d.Closed = true
	return nil
}

// Connected returns a connected connector with the given modes and encoders
func Connected(handle uint32, iface kms.Interface, id uint32, modes []kms.Mode, encoders ...uint32) kms.Connector {
	return kms.Connector{
		Handle:      handle,
		Interface:   iface,
		InterfaceID: id,
		State:       kms.Connected,
		MMWidth:     310,
		MMHeight:    170,
		Modes:       modes,
		Encoders:    encoders,
	}
}

// SimpleDevice has one connected eDP-1 connector (handle 10) driven by encoder 20 on crtc 30
func SimpleDevice() *Device {
	d := NewDevice()
	d.AddEncoder(20, 30)
	d.AddConnector(Connected(10, kms.InterfaceEmbeddedDisplayPort, 1, []kms.Mode{
		{Name: "64x48", Width: 64, Height: 48, Refresh: 60, Type: kms.ModeTypePreferred},
	}, 20))
	return d
}
