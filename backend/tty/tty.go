// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package tty is the backend driving the primary gpu directly through kernel mode setting.
//
// It manages at most one output device at a time: the primary gpu of the seat. A device is opened
// when it gets added, rebuilt from scratch when it changes and torn down when it is removed.
// Every method has to be called from the event loop goroutine. Events from the device monitor,
// the session and the card are posted into the loop by their sources, so nothing here ever runs
// concurrently or nested.
package tty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/render"
	"github.com/mstarongithub/tsuki/scanout"
	"github.com/mstarongithub/tsuki/scheduler"
	"github.com/mstarongithub/tsuki/session"
	"github.com/mstarongithub/tsuki/udev"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrDeviceAlreadyLive  = errors.New("an output device is already live")
	ErrAlreadyInitialized = errors.New("backend already initialized")
)

const (
	DefaultOpenAttempts   = 100
	DefaultOpenRetryDelay = 20 * time.Millisecond
)

var DefaultClearColor = render.Color{R: 0.1, G: 0.1, B: 0.1, A: 1}

// Compositor is what the backend needs from the compositor core
type Compositor interface {
	AddOutput(out *output.Output)
	RemoveOutput(out *output.Output)
	BindImport(r render.Renderer)
	UnbindImport(r render.Renderer)
	QueueRedraw()
}

// Enumerator finds and follows the seat's cards, usually *udev.Enumerator
type Enumerator interface {
	Scan() ([]udev.Device, error)
	PrimaryGPU(devices []udev.Device, override string) (udev.Device, error)
	Monitor(ctx context.Context, handler func(udev.Event)) error
}

// Input is suspended while the session is paused
type Input interface {
	Suspend()
	Resume() error
}

type Config struct {
	// Path of the gpu to use instead of the boot gpu
	PrimaryGPU     string
	Connectors     output.ConnectorFilter
	ClearColor     render.Color
	RetryDelay     time.Duration
	OpenAttempts   int
	OpenRetryDelay time.Duration

	// OpenKMS prepares an opened card, kms.Open by default
	OpenKMS func(f *os.File) (kms.Device, error)
	// NewRenderer creates the renderer for a device, a software renderer by default
	NewRenderer func(dev kms.Device) (render.Renderer, error)
}

func (c *Config) setDefaults() {
	if c.Connectors == nil {
		c.Connectors = output.InterfaceFilter(kms.InterfaceEmbeddedDisplayPort)
	}
	if c.ClearColor == (render.Color{}) {
		c.ClearColor = DefaultClearColor
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = scheduler.DefaultRetryDelay
	}
	if c.OpenAttempts <= 0 {
		c.OpenAttempts = DefaultOpenAttempts
	}
	if c.OpenRetryDelay <= 0 {
		c.OpenRetryDelay = DefaultOpenRetryDelay
	}
	if c.OpenKMS == nil {
		c.OpenKMS = func(f *os.File) (kms.Device, error) { return kms.Open(f) }
	}
	if c.NewRenderer == nil {
		c.NewRenderer = func(kms.Device) (render.Renderer, error) { return render.NewSoftware(), nil }
	}
}

type State int

const (
	Absent = State(iota)
	Opening
	Live
	Reopening
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Opening:
		return "opening"
	case Live:
		return "live"
	case Reopening:
		return "reopening"
	default:
		return "unknown"
	}
}

// outputDevice is everything built for one opened card. The handles in it are only valid
// for its generation
type outputDevice struct {
	id         udev.DevID
	path       string
	generation uint64

	file      *os.File
	kms       kms.Device
	renderer  render.Renderer
	selection output.Selection
	output    *output.Output
	pipeline  *scanout.Pipeline
	scheduler *scheduler.Scheduler
	source    evloop.Token
}

// pendingOpen is an open waiting for the session to hand out a busy device
type pendingOpen struct {
	id         udev.DevID
	path       string
	generation uint64
	attempt    int
	timer      evloop.Token
}

type Tty struct {
	loop     *evloop.Loop
	session  session.Session
	enum     Enumerator
	comp     Compositor
	input    Input
	cfg      Config
	selector *output.Selector

	primary     udev.Device
	initialized bool
	paused      bool

	state      State
	generation uint64
	device     *outputDevice
	pending    *pendingOpen
}

func New(loop *evloop.Loop, sess session.Session, enum Enumerator, comp Compositor, cfg Config) *Tty {
	cfg.setDefaults()
	return &Tty{
		loop:     loop,
		session:  sess,
		enum:     enum,
		comp:     comp,
		cfg:      cfg,
		selector: output.NewSelector(cfg.Connectors),
		paused:   !sess.Active(),
	}
}

// SetInput registers the input to suspend while the session is paused
func (t *Tty) SetInput(in Input) {
	t.input = in
}

func (t *Tty) SeatName() string {
	return t.session.Seat()
}

func (t *Tty) State() State {
	return t.state
}

// Renderer returns the live device's renderer, nil if there is none
func (t *Tty) Renderer() render.Renderer {
	if t.device == nil {
		return nil
	}
	return t.device.renderer
}

// Output returns the live device's output, nil if there is none
func (t *Tty) Output() *output.Output {
	if t.device == nil {
		return nil
	}
	return t.device.output
}

// Modes lists every mode the live output's connector supports
func (t *Tty) Modes() []kms.Mode {
	if t.device == nil {
		return nil
	}
	return t.device.selection.Connector.Modes
}

// Info is a snapshot of the backend for debugging
type Info struct {
	State     State
	Paused    bool
	Path      string
	Output    string
	Mode      kms.Mode
	CRTC      uint32
	Planes    int
	Scheduler scheduler.State
	Renderer  string
}

func (t *Tty) Inspect() Info {
	info := Info{State: t.state, Paused: t.paused}
	if dev := t.device; dev != nil {
		info.Path = dev.path
		info.Output = dev.output.String()
		info.Mode = dev.selection.Mode
		info.CRTC = dev.selection.CRTC
		info.Planes = len(dev.selection.Planes.Primary) + len(dev.selection.Planes.Cursor) + len(dev.selection.Planes.Overlay)
		info.Scheduler = dev.scheduler.State()
		info.Renderer = dev.renderer.Name()
	}
	return info
}

// Init finds the primary gpu, opens it and starts following hot-plug and session events
func (t *Tty) Init() error {
	if t.initialized {
		return ErrAlreadyInitialized
	}
	devices, err := t.enum.Scan()
	if err != nil {
		return fmt.Errorf("failed to enumerate gpus: %w", err)
	}
	primary, err := t.enum.PrimaryGPU(devices, t.cfg.PrimaryGPU)
	if err != nil {
		return err
	}
	t.primary = primary
	t.initialized = true
	logrus.WithFields(logrus.Fields{
		"path": primary.Path,
		"id":   primary.ID.String(),
		"seat": t.SeatName(),
	}).Infoln("Using primary gpu")

	for _, dev := range devices {
		if err := t.DeviceAdded(dev.ID, dev.Path); err != nil {
			logrus.WithError(err).WithField("path", dev.Path).Errorln("Failed to add device")
		}
	}

	t.loop.InsertSource("udev", func(ctx context.Context, emit evloop.Emit) error {
		return t.enum.Monitor(ctx, func(ev udev.Event) {
			emit(func() { t.handleUdev(ev) })
		})
	})
	t.loop.InsertSource("session", func(ctx context.Context, emit evloop.Emit) error {
		return t.session.Listen(ctx, func(ev session.Event) {
			emit(func() { t.handleSession(ev) })
		})
	})
	logrus.Infoln("Tty backend initialized")
	return nil
}

func (t *Tty) handleUdev(ev udev.Event) {
	logrus.WithFields(logrus.Fields{"event": ev.Kind.String(), "id": ev.ID.String()}).Debugln("Device event")
	switch ev.Kind {
	case udev.Added:
		if err := t.DeviceAdded(ev.ID, ev.Path); err != nil {
			logrus.WithError(err).WithField("path", ev.Path).Errorln("Failed to add device")
		}
	case udev.Changed:
		t.DeviceChanged(ev.ID)
	case udev.Removed:
		t.DeviceRemoved(ev.ID)
	}
}

// DeviceAdded opens the primary gpu. Other devices are ignored. If the session reports the device
// as busy the open is retried later on the loop, DeviceAdded returns nil in that case
func (t *Tty) DeviceAdded(id udev.DevID, path string) error {
	if path != t.primary.Path {
		logrus.WithField("path", path).Infoln("Ignoring device that isn't the primary gpu")
		return nil
	}
	if t.state != Absent {
		return fmt.Errorf("%w: can't add %s", ErrDeviceAlreadyLive, path)
	}
	return t.open(id, path)
}

// DeviceChanged rebuilds the live device from scratch. Other ids are ignored
func (t *Tty) DeviceChanged(id udev.DevID) {
	if t.device == nil || t.device.id != id {
		return
	}
	path := t.device.path
	logrus.WithField("path", path).Infoln("Device changed, reopening")
	t.teardown()
	t.state = Reopening
	if err := t.open(id, path); err != nil {
		logrus.WithError(err).WithField("path", path).Errorln("Failed to reopen device, no display until the next hot-plug")
	}
}

// DeviceRemoved tears down the device with that id, if there is one
func (t *Tty) DeviceRemoved(id udev.DevID) {
	if t.pending != nil && t.pending.id == id {
		t.loop.Remove(t.pending.timer)
		t.pending = nil
		t.generation++
		t.state = Absent
		logrus.WithField("id", id.String()).Infoln("Device removed while opening")
		return
	}
	if t.device == nil || t.device.id != id {
		return
	}
	logrus.WithField("path", t.device.path).Infoln("Device removed")
	t.teardown()
}

func (t *Tty) open(id udev.DevID, path string) error {
	t.generation++
	if t.state == Absent {
		t.state = Opening
	}
	return t.tryOpen(&pendingOpen{id: id, path: path, generation: t.generation, attempt: 1})
}

func (t *Tty) tryOpen(p *pendingOpen) error {
	t.pending = nil
	f, err := t.session.Open(p.path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK)
	if errors.Is(err, session.ErrBusy) && p.attempt < t.cfg.OpenAttempts {
		logrus.WithField("path", p.path).WithField("attempt", p.attempt).Debugln("Device busy, retrying")
		p.attempt++
		p.timer = t.loop.AfterFunc(t.cfg.OpenRetryDelay, func() {
			if t.pending != p || t.generation != p.generation {
				return
			}
			if err := t.tryOpen(p); err != nil {
				logrus.WithError(err).WithField("path", p.path).Errorln("Failed to open device")
			}
		})
		t.pending = p
		return nil
	}
	if err != nil {
		t.state = Absent
		return fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	if err := t.build(p, f); err != nil {
		t.state = Absent
		return err
	}
	return nil
}

// build sets up everything on top of an opened card. On failure whatever was built is undone
func (t *Tty) build(p *pendingOpen, f *os.File) (err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()
	undo = append(undo, func() { t.release(f) })

	kdev, err := t.cfg.OpenKMS(f)
	if err != nil {
		return fmt.Errorf("failed to prepare %s for mode setting: %w", p.path, err)
	}
	undo = append(undo, func() { logClose("kms device", kdev.Close()) })

	renderer, err := t.cfg.NewRenderer(kdev)
	if err != nil {
		return fmt.Errorf("failed to create renderer for %s: %w", p.path, err)
	}
	undo = append(undo, func() { logClose("renderer", renderer.Close()) })

	t.comp.BindImport(renderer)
	undo = append(undo, func() { t.comp.UnbindImport(renderer) })

	sel, err := t.selector.Select(kdev)
	if err != nil {
		return fmt.Errorf("no output on %s: %w", p.path, err)
	}
	out := output.NewOutput(kdev, sel)
	pipeline := scanout.New(sel.Surface, renderer)
	undo = append(undo, func() { logClose("pipeline", pipeline.Close()) })

	dev := &outputDevice{
		id:         p.id,
		path:       p.path,
		generation: p.generation,
		file:       f,
		kms:        kdev,
		renderer:   renderer,
		selection:  sel,
		output:     out,
		pipeline:   pipeline,
		scheduler:  scheduler.New(t.loop, t.cfg.RetryDelay, t.comp.QueueRedraw),
	}
	t.comp.AddOutput(out)
	dev.source = t.loop.InsertSource("drm "+p.path, func(ctx context.Context, emit evloop.Emit) error {
		return kdev.Listen(ctx, func(ev kms.Event) {
			emit(func() { t.handleDRM(dev.generation, ev) })
		})
	})
	if t.paused {
		kdev.Pause()
	}
	t.device = dev
	t.state = Live
	logrus.WithFields(logrus.Fields{
		"path":     p.path,
		"output":   out.String(),
		"crtc":     sel.CRTC,
		"renderer": renderer.Name(),
	}).Infoln("Output device live")
	t.comp.QueueRedraw()
	return nil
}

// teardown destroys the live device: event source, output, pipeline, renderer, card, fd
func (t *Tty) teardown() {
	dev := t.device
	if dev == nil {
		return
	}
	t.device = nil
	t.state = Absent
	t.loop.Remove(dev.source)
	dev.scheduler.Cancel()
	t.comp.RemoveOutput(dev.output)
	logClose("pipeline", dev.pipeline.Close())
	t.comp.UnbindImport(dev.renderer)
	logClose("renderer", dev.renderer.Close())
	logClose("kms device", dev.kms.Close())
	t.release(dev.file)
}

func (t *Tty) release(f *os.File) {
	if err := t.session.Release(f); err != nil {
		logrus.WithError(err).WithField("path", f.Name()).Warningln("Failed to release device")
	}
}

func logClose(what string, err error) {
	if err != nil {
		logrus.WithError(err).Warningf("Failed to close %s\n", what)
	}
}

func (t *Tty) handleDRM(generation uint64, ev kms.Event) {
	dev := t.device
	if dev == nil || dev.generation != generation {
		return
	}
	switch ev.Kind {
	case kms.EventVBlank:
		dev.pipeline.FrameSubmitted()
		dev.scheduler.VBlank()
	case kms.EventError:
		logrus.WithError(ev.Err).WithField("path", dev.path).Errorln("DRM error")
	}
}

// Render draws a frame on the live device. Without one, while paused or while a flip
// is still pending it does nothing
func (t *Tty) Render(elements []render.Element) {
	dev := t.device
	if dev == nil || t.paused || !dev.scheduler.CanRender() {
		return
	}
	outcome := dev.pipeline.RenderFrame(elements, t.cfg.ClearColor)
	if outcome.Kind == scanout.Submitted && outcome.HasDamage {
		if err := dev.pipeline.QueueFrame(); err != nil {
			logrus.WithError(err).Warningln("Failed to queue frame, dropping it")
			outcome = scanout.FailedOutcome(err)
		}
	}
	if errors.Is(outcome.Err, scanout.ErrExplicitSync) {
		logrus.WithField("path", dev.path).Errorln("Renderer needs explicit sync, which isn't supported. Removing device")
		t.teardown()
		return
	}
	if outcome.Kind == scanout.Failed {
		logrus.WithError(outcome.Err).Errorln("Error rendering frame")
	}
	dev.scheduler.FrameRendered(outcome)
}

func (t *Tty) handleSession(ev session.Event) {
	switch ev.Kind {
	case session.Pause:
		t.Pause()
	case session.Activate:
		t.Activate()
	}
	// Only now the card is idle
	ev.Handled()
}

// Pause stops all rendering and input until Activate
func (t *Tty) Pause() {
	if t.paused {
		return
	}
	logrus.Infoln("Session paused")
	t.paused = true
	if t.input != nil {
		t.input.Suspend()
	}
	if t.device != nil {
		t.device.kms.Pause()
		t.device.scheduler.Cancel()
	}
}

// Activate resumes after a Pause. The device is rebuilt, since anything may have changed meanwhile
func (t *Tty) Activate() {
	if !t.paused {
		return
	}
	logrus.Infoln("Session activated")
	t.paused = false
	if t.input != nil {
		if err := t.input.Resume(); err != nil {
			logrus.WithError(err).Errorln("Failed to resume input")
		}
	}
	if t.device != nil {
		if err := t.device.kms.Activate(true); err != nil {
			logrus.WithError(err).Warningln("Failed to activate device")
		}
		t.DeviceChanged(t.device.id)
	}
	t.comp.QueueRedraw()
}

func (t *Tty) Paused() bool {
	return t.paused
}

func (t *Tty) ChangeVT(n int) error {
	return t.session.ChangeVT(n)
}

// Shutdown tears down the live device and gives the session back
func (t *Tty) Shutdown() {
	if t.pending != nil {
		t.DeviceRemoved(t.pending.id)
	}
	t.teardown()
	if err := t.session.Close(); err != nil {
		logrus.WithError(err).Warningln("Failed to close session")
	}
}
