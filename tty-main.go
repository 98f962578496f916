package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mstarongithub/tsuki/backend/tty"
	"github.com/mstarongithub/tsuki/compositor"
	"github.com/mstarongithub/tsuki/config"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/input"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/session"
	"github.com/mstarongithub/tsuki/udev"
	"github.com/sirupsen/logrus"
)

func ttyMain(conf *config.Config) {
	filter, err := output.ParseConnectorFilter(conf.Connectors)
	if err != nil {
		fatal("parsing connectors", err)
	}
	sess, err := session.New(conf.Seat)
	if err != nil {
		fatal("opening session", err)
	}

	loop := evloop.New(nil)
	state := compositor.New(loop)
	enum := udev.NewEnumerator(sess.Seat())
	hardware := tty.New(loop, sess, enum, state, tty.Config{
		PrimaryGPU:     conf.PrimaryGPU,
		Connectors:     filter,
		ClearColor:     conf.Color(),
		RetryDelay:     conf.RetryDelay(),
		OpenAttempts:   conf.OpenAttempts,
		OpenRetryDelay: conf.OpenRetryDelay(),
	})
	v := hardwareVariant(hardware)
	state.SetBackend(v.capability())
	if err = v.capability().Init(); err != nil {
		fatal("initializing backend", err)
	}

	in := input.New(sess, enum)
	hardware.SetInput(in)
	loop.InsertSource("input", func(ctx context.Context, emit evloop.Emit) error {
		return in.Listen(ctx, func(action input.Action) {
			emit(func() { handleAction(v, state, action) })
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startClients(conf, newController(loop, state, v))

	if err = loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Errorln("Event loop failed")
	}
	hardware.Shutdown()
	logrus.Infoln("Stopped")
}

func handleAction(v variant, state *compositor.State, action input.Action) {
	switch action.Kind {
	case input.ActionQuit:
		state.Stop()
	case input.ActionChangeVT:
		if err := v.changeVT(action.VT); err != nil {
			logrus.WithError(err).WithField("vt", action.VT).Errorln("Failed to switch vt")
		}
	}
}
