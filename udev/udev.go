// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package udev finds the DRM cards of a seat and follows them being plugged in and out
package udev

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrNoPrimaryGPU = errors.New("no primary gpu found")

const defaultSeat = "seat0"

var (
	cardName  = regexp.MustCompile(`^card[0-9]+$`)
	eventName = regexp.MustCompile(`^event[0-9]+$`)
)

// DevID is a kernel device number (dev_t)
type DevID uint64

func MakeDevID(major, minor uint32) DevID {
	return DevID(unix.Mkdev(major, minor))
}

func (d DevID) Major() uint32 { return unix.Major(uint64(d)) }
func (d DevID) Minor() uint32 { return unix.Minor(uint64(d)) }

func (d DevID) String() string {
	return fmt.Sprintf("%d:%d", d.Major(), d.Minor())
}

// ParseDevID parses the "major:minor" format of sysfs dev attributes
func ParseDevID(s string) (DevID, error) {
	majorStr, minorStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("malformed device number %q", s)
	}
	major, err := strconv.ParseUint(majorStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed device number %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(minorStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed device number %q: %w", s, err)
	}
	return MakeDevID(uint32(major), uint32(minor)), nil
}

type Device struct {
	ID   DevID
	Path string // Device node, like /dev/dri/card0
	Name string // Kernel name, like card0
}

// Enumerator looks at the system through sysfs, /dev and the udev database.
// The roots only differ from the defaults in tests
type Enumerator struct {
	SysRoot  string
	DevRoot  string
	UdevData string
	// Seat the enumerated devices have to belong to
	Seat string
}

func NewEnumerator(seat string) *Enumerator {
	if seat == "" {
		seat = defaultSeat
	}
	return &Enumerator{
		SysRoot:  "/sys",
		DevRoot:  "/dev",
		UdevData: "/run/udev/data",
		Seat:     seat,
	}
}

func (e *Enumerator) classDir() string {
	return filepath.Join(e.SysRoot, "class", "drm")
}

func (e *Enumerator) nodePath(name string) string {
	return filepath.Join(e.DevRoot, "dri", name)
}

// Scan lists the cards of the seat, sorted by name
func (e *Enumerator) Scan() ([]Device, error) {
	entries, err := os.ReadDir(e.classDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list drm devices: %w", err)
	}
	var devices []Device
	for _, entry := range entries {
		name := entry.Name()
		if !cardName.MatchString(name) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(e.classDir(), name, "dev"))
		if err != nil {
			logrus.WithError(err).WithField("card", name).Warningln("Failed to read device number")
			continue
		}
		id, err := ParseDevID(string(raw))
		if err != nil {
			logrus.WithError(err).WithField("card", name).Warningln("Skipping card")
			continue
		}
		if seat := e.seatOf(id); seat != e.Seat {
			logrus.WithFields(logrus.Fields{"card": name, "seat": seat}).Debugln("Card belongs to another seat")
			continue
		}
		devices = append(devices, Device{ID: id, Path: e.nodePath(name), Name: name})
	}
	sort.Slice(devices, func(i, j int) bool {
		return cardNumber(devices[i].Name) < cardNumber(devices[j].Name)
	})
	return devices, nil
}

func cardNumber(name string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "card"))
	return n
}

// property reads a property from the udev database entry of a character device
func (e *Enumerator) property(id DevID, key string) string {
	f, err := os.Open(filepath.Join(e.UdevData, "c"+id.String()))
	if err != nil {
		return ""
	}
	defer f.Close()
	prefix := "E:" + key + "="
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), prefix); ok {
			return value
		}
	}
	return ""
}

func (e *Enumerator) seatOf(id DevID) string {
	if seat := e.property(id, "ID_SEAT"); seat != "" {
		return seat
	}
	return defaultSeat
}

// Keyboards lists the evdev nodes of the seat udev tagged as keyboards
func (e *Enumerator) Keyboards() ([]Device, error) {
	dir := filepath.Join(e.SysRoot, "class", "input")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}
	var keyboards []Device
	for _, entry := range entries {
		name := entry.Name()
		if !eventName.MatchString(name) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name, "dev"))
		if err != nil {
			continue
		}
		id, err := ParseDevID(string(raw))
		if err != nil {
			continue
		}
		if e.property(id, "ID_INPUT_KEYBOARD") != "1" || e.seatOf(id) != e.Seat {
			continue
		}
		keyboards = append(keyboards, Device{ID: id, Path: filepath.Join(e.DevRoot, "input", name), Name: name})
	}
	return keyboards, nil
}

// PrimaryGPU picks the card the firmware booted with (boot_vga), else the first one.
// A non empty override path is used as is if it is one of the devices
func (e *Enumerator) PrimaryGPU(devices []Device, override string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoPrimaryGPU
	}
	if override != "" {
		for _, dev := range devices {
			if dev.Path == override {
				return dev, nil
			}
		}
		return Device{}, fmt.Errorf("%w: configured gpu %s isn't a card of seat %s", ErrNoPrimaryGPU, override, e.Seat)
	}
	for _, dev := range devices {
		raw, err := os.ReadFile(filepath.Join(e.classDir(), dev.Name, "device", "boot_vga"))
		if err == nil && strings.TrimSpace(string(raw)) == "1" {
			return dev, nil
		}
	}
	return devices[0], nil
}
