package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mstarongithub/tsuki/config"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/session"
	"github.com/mstarongithub/tsuki/udev"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
	"golang.org/x/sys/unix"
)

var (
	utilAction *string = flag.String(
		"action",
		"outputs",
		"The action to perform. Can be one of:"+
			"\n\t- none: Do nothing"+
			"\n\t- outputs: List available outputs"+
			"\n\t- modes <output>: List available modes for an output",
	)
	outputSelection *string = flag.String(
		"output",
		"",
		"Output to perform the action on. Required for some actions",
	)
)

func utilMain(conf *config.Config) {
	if *help {
		utilHelpMessage()
		return
	}
	if *utilAction == "none" {
		return
	}

	// No session takeover in tool mode, reading connectors doesn't need drm master
	sess := session.NewDirect(conf.Seat)
	enum := udev.NewEnumerator(conf.Seat)
	devices, err := enum.Scan()
	if err != nil {
		logrus.WithError(err).Fatal("enumerating gpus")
	}
	primary, err := enum.PrimaryGPU(devices, conf.PrimaryGPU)
	if err != nil {
		logrus.WithError(err).Fatal("finding primary gpu")
	}
	f, err := sess.Open(primary.Path, unix.O_RDWR|unix.O_CLOEXEC)
	if err != nil {
		logrus.WithError(err).Fatal("opening primary gpu")
	}
	defer sess.Release(f)
	card, err := kms.Open(f)
	if err != nil {
		logrus.WithError(err).Fatal("reading primary gpu")
	}
	defer card.Close()

	switch *utilAction {
	case "outputs":
		err = utilListOutputs(os.Stdout, card)
	case "modes":
		if *outputSelection == "" {
			fmt.Println("Output has to be specified")
			return
		}
		err = utilListOutputModes(os.Stdout, card, *outputSelection)
	default:
		fmt.Printf("Unknown action %s\n", *utilAction)
		return
	}
	if err != nil {
		logrus.WithError(err).Fatal("reading outputs")
	}
}

func utilHelpMessage() {
	fmt.Println("---- Help message for tsuki in tool mode ----")
	fmt.Println("\nIn tool mode, tsuki will offer various tools for figuring out configurations and similar")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Default is $XDG_CONFIG_HOME/tsuki/config.toml")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for compositor mode if -tool is not set)")
	fmt.Println("\nTool flags:")
	fmt.Println("\t-action: The action to perform. Can be one of:")
	fmt.Println("\t\t- (default) outputs: List available outputs")
	fmt.Println("\t\t- modes: List available modes for an output. Use with -output")
	fmt.Println("\t-output: Output to perform the action on. Required for -action modes")
}

func connectors(dev kms.Device) ([]kms.Connector, error) {
	res, err := dev.ResourceHandles()
	if err != nil {
		return nil, err
	}
	conns := make([]kms.Connector, 0, len(res.Connectors))
	for _, handle := range res.Connectors {
		c, err := dev.Connector(handle)
		if err != nil {
			logrus.WithError(err).WithField("connector", handle).Warningln("Skipping unreadable connector")
			continue
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func utilListOutputs(w io.Writer, dev kms.Device) error {
	conns, err := connectors(dev)
	if err != nil {
		return err
	}
	for i, c := range conns {
		fmt.Fprintf(w, "Output %v: %s (%s)\n", i, c.Name(), c.State)
	}
	return nil
}

func utilListOutputModes(w io.Writer, dev kms.Device, outputName string) error {
	conns, err := connectors(dev)
	if err != nil {
		return err
	}
	filtered := sliceutils.Filter(conns, func(c kms.Connector) bool {
		return c.Name() == outputName
	})
	if len(filtered) == 0 {
		fmt.Fprintf(w, "Output %s not found\n", outputName)
		return nil
	}
	fmt.Fprintf(w, "Modes for output %s:\n", outputName)
	for _, mode := range filtered[0].Modes {
		fmt.Fprintf(w, "\t- %s\n", mode)
	}
	return nil
}
