package input

import (
	evdev "github.com/gvalkov/golang-evdev"
)

type ActionKind int

const (
	ActionQuit = ActionKind(iota)
	ActionChangeVT
)

// Action is a compositor key binding that fired
type Action struct {
	Kind ActionKind
	VT   int // For ActionChangeVT
}

// Key values of EV_KEY events
const (
	keyReleased = 0
	keyPressed  = 1
)

var functionKeys = map[uint16]int{
	evdev.KEY_F1: 1, evdev.KEY_F2: 2, evdev.KEY_F3: 3, evdev.KEY_F4: 4,
	evdev.KEY_F5: 5, evdev.KEY_F6: 6, evdev.KEY_F7: 7, evdev.KEY_F8: 8,
	evdev.KEY_F9: 9, evdev.KEY_F10: 10, evdev.KEY_F11: 11, evdev.KEY_F12: 12,
}

type modifiers uint8

const (
	modCtrl modifiers = 1 << iota
	modAlt
	modShift
)

var modifierKeys = map[uint16]modifiers{
	evdev.KEY_LEFTCTRL:   modCtrl,
	evdev.KEY_RIGHTCTRL:  modCtrl,
	evdev.KEY_LEFTALT:    modAlt,
	evdev.KEY_RIGHTALT:   modAlt,
	evdev.KEY_LEFTSHIFT:  modShift,
	evdev.KEY_RIGHTSHIFT: modShift,
}

// Keyboard tracks the modifier state of one keyboard and matches the bindings:
// Ctrl+Alt+F1..F12 switch vt, Ctrl+Shift+Q quits
type Keyboard struct {
	pressed map[uint16]bool
}

func NewKeyboard() *Keyboard {
	return &Keyboard{pressed: make(map[uint16]bool)}
}

func (k *Keyboard) mods() modifiers {
	var m modifiers
	for code, down := range k.pressed {
		if down {
			m |= modifierKeys[code]
		}
	}
	return m
}

// Feed processes one event. ok is true if it triggered an action
func (k *Keyboard) Feed(ev evdev.InputEvent) (action Action, ok bool) {
	if ev.Type != evdev.EV_KEY {
		return Action{}, false
	}
	if _, isMod := modifierKeys[ev.Code]; isMod {
		k.pressed[ev.Code] = ev.Value != keyReleased
		return Action{}, false
	}
	if ev.Value != keyPressed {
		return Action{}, false
	}
	mods := k.mods()
	if vt, isF := functionKeys[ev.Code]; isF && mods == modCtrl|modAlt {
		return Action{Kind: ActionChangeVT, VT: vt}, true
	}
	if ev.Code == evdev.KEY_Q && mods == modCtrl|modShift {
		return Action{Kind: ActionQuit}, true
	}
	return Action{}, false
}

// Reset forgets all held keys. Releases that happen while a keyboard isn't read are never seen
func (k *Keyboard) Reset() {
	clear(k.pressed)
}
