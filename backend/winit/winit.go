// Package winit runs nested inside another Wayland or X11 session through wlroots.
//
// wlroots composes and paces the frames itself here, so there is no renderer to hand out
// and Render does nothing.
package winit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/render"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

var ErrAlreadyInitialized = errors.New("backend already initialized")

// Compositor is what the windowed backend reports outputs to
type Compositor interface {
	AddOutput(out *output.Output)
	RemoveOutput(out *output.Output)
}

type Winit struct {
	loop *evloop.Loop
	comp Compositor
	seat string

	display      wlroots.Display
	backend      wlroots.Backend
	renderer     wlroots.Renderer
	allocator    wlroots.Allocator
	scene        wlroots.Scene
	sceneLayout  wlroots.SceneOutputLayout
	outputLayout wlroots.OutputLayout
	wlSeat       wlroots.Seat

	outputs     map[string]*output.Output
	modes       map[string][]kms.Mode
	socket      string
	initialized bool
}

// ForwardLogs sends wlroots' own log messages to logrus
func ForwardLogs() {
	wlroots.OnLog(wlroots.LogImportanceError, func(importance wlroots.LogImportance, msg string) {
		switch importance {
		case wlroots.LogImportanceDebug:
			logrus.Debugln(msg)
		case wlroots.LogImportanceInfo:
			logrus.Infoln(msg)
		case wlroots.LogImportanceError:
			logrus.Errorln(msg)
		case wlroots.LogImportanceSilent:
			return
		}
	})
}

// New sets up the wlroots display, backend, renderer and scene. Outputs are reported to
// comp through loop
func New(loop *evloop.Loop, comp Compositor, seat string) (*Winit, error) {
	w := &Winit{
		loop:    loop,
		comp:    comp,
		seat:    seat,
		outputs: make(map[string]*output.Output),
		modes:   make(map[string][]kms.Mode),
	}
	var err error

	w.display = wlroots.NewDisplay()
	// Picks the nested wayland or x11 backend when running inside a session
	w.backend, err = w.display.BackendAutocreate()
	if err != nil {
		return nil, fmt.Errorf("failed to create wlroots backend: %w", err)
	}
	w.renderer, err = w.backend.RendererAutoCreate()
	if err != nil {
		return nil, fmt.Errorf("failed to create wlroots renderer: %w", err)
	}
	w.renderer.InitDisplay(w.display)
	w.allocator, err = w.backend.AllocatorAutocreate(w.renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to create wlroots allocator: %w", err)
	}

	w.display.CompositorCreate(5, w.renderer)
	w.display.SubCompositorCreate()
	w.display.DataDeviceManagerCreate()

	w.outputLayout = wlroots.NewOutputLayout()
	w.backend.OnNewOutput(w.handleNewOutput)

	w.scene = wlroots.NewScene()
	w.sceneLayout = w.scene.AttachOutputLayout(w.outputLayout)
	w.wlSeat = w.display.SeatCreate(seat)
	return w, nil
}

func (w *Winit) SeatName() string {
	return w.seat
}

// Renderer is always nil, wlroots renders on its own
func (w *Winit) Renderer() render.Renderer {
	return nil
}

func (w *Winit) Render([]render.Element) {}

// Init opens the wayland socket, starts the backend and exports WAYLAND_DISPLAY
func (w *Winit) Init() error {
	if w.initialized {
		return ErrAlreadyInitialized
	}
	socket, err := w.display.AddSocketAuto()
	if err != nil {
		w.backend.Destroy()
		return fmt.Errorf("failed to add wayland socket: %w", err)
	}
	if err = w.backend.Start(); err != nil {
		w.backend.Destroy()
		w.display.Destroy()
		return fmt.Errorf("failed to start wlroots backend: %w", err)
	}
	if res := os.Getenv("WAYLAND_DISPLAY"); res != "" {
		logrus.WithField("WAYLAND_DISPLAY", res).Debugln("Wayland display already set, overwriting")
	}
	if err = os.Setenv("WAYLAND_DISPLAY", socket); err != nil {
		return err
	}
	w.socket = socket
	w.initialized = true
	logrus.WithField("WAYLAND_DISPLAY", socket).Infoln("Running nested")
	return nil
}

func (w *Winit) Socket() string {
	return w.socket
}

func (w *Winit) handleNewFrame(out wlroots.Output) {
	sOut, err := w.scene.SceneOutput(out)
	if err != nil {
		return
	}
	sOut.Commit()
	sOut.SendFrameDone(time.Now())
}

func (w *Winit) handleOutputRequestState(out wlroots.Output, state wlroots.OutputState) {
	logrus.WithField("output", out.Name()).Debugln("New state request for output")
	out.CommitState(state)
}

func (w *Winit) handleOutputDestroy(out wlroots.Output) {
	name := out.Name()
	logrus.WithField("name", name).Debugln("Output getting destroyed")
	w.loop.Post(func() {
		if o, ok := w.outputs[name]; ok {
			delete(w.outputs, name)
			delete(w.modes, name)
			w.comp.RemoveOutput(o)
		}
	})
}

func (w *Winit) handleNewOutput(out wlroots.Output) {
	logrus.WithField("name", out.Name()).Debugln("New output added")
	out.InitRender(w.allocator, w.renderer)

	oState := wlroots.NewOutputState()
	oState.StateInit()
	oState.StateSetEnabled(true)
	mode, err := out.PrefferedMode()
	if err == nil {
		oState.SetMode(mode)
	}
	out.CommitState(oState)
	oState.Finish()

	out.OnFrame(w.handleNewFrame)
	out.OnRequestState(w.handleOutputRequestState)
	out.OnDestroy(w.handleOutputDestroy)

	lOutput := w.outputLayout.AddOutputAuto(out)
	sceneOutput := w.scene.NewOutput(out)
	w.sceneLayout.AddOutput(lOutput, sceneOutput)

	if err := out.SetTitle(fmt.Sprintf("tsuki - %s", out.Name())); err != nil {
		logrus.WithError(err).Debugln("Failed to set output title")
	}

	o := &output.Output{
		Name:     out.Name(),
		Physical: output.Physical{Make: "tsuki", Model: "nested"},
	}
	var modes []kms.Mode
	for _, m := range out.Modes() {
		o.CurrentMode = modeFrom(m)
		if m.Preferred() {
			o.PreferredMode = o.CurrentMode
		}
		modes = append(modes, o.CurrentMode)
	}
	if err == nil {
		o.CurrentMode = modeFrom(mode)
		o.PreferredMode = o.CurrentMode
	}
	w.loop.Post(func() {
		w.outputs[o.Name] = o
		w.modes[o.Name] = modes
		w.comp.AddOutput(o)
	})
}

// Modes lists the modes of a nested output. Must be called on the loop
func (w *Winit) Modes(name string) []kms.Mode {
	return w.modes[name]
}

// modeFrom converts a wlroots mode, whose refresh rate is in mHz
func modeFrom(m wlroots.OutputMode) kms.Mode {
	km := kms.Mode{
		Name:    fmt.Sprintf("%dx%d", m.Width(), m.Height()),
		Width:   uint16(m.Width()),
		Height:  uint16(m.Height()),
		Refresh: uint32((m.Refresh() + 500) / 1000),
	}
	if m.Preferred() {
		km.Type = kms.ModeTypePreferred
	}
	return km
}

// Run blocks in the wlroots event loop until Stop
func (w *Winit) Run() error {
	w.display.Run()
	w.display.DestroyClients()
	w.scene.Tree().Node().Destroy()
	w.outputLayout.Destroy()
	w.display.Destroy()
	return nil
}

// Stop makes Run return. Safe to call from any goroutine
func (w *Winit) Stop() {
	w.display.Terminate()
}
