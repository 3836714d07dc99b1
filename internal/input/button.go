// Package input turns raw button levels into the press, hold and release
// events the mode machine reacts to.
package input

import (
	"time"

	"github.com/sio-stoke/stoke/internal/clock"
)

// Pin is a digital input.
type Pin interface {
	Active() bool
}

// Button samples a Pin on demand. It is not safe for concurrent use; the
// control loop owns it.
type Button struct {
	Name string

	pin      Pin
	clock    clock.Clock
	hold     time.Duration
	debounce time.Duration

	pressed   bool
	since     int64
	candidate bool
	candSince int64
	pressEdge bool
	relEdge   bool
}

// New creates a button that reports Held after hold of continuous press.
func New(name string, pin Pin, clk clock.Clock, hold, debounce time.Duration) *Button {
	now := clk.NowNs()
	level := pin.Active()
	return &Button{
		Name:      name,
		pin:       pin,
		clock:     clk,
		hold:      hold,
		debounce:  debounce,
		pressed:   level,
		since:     now,
		candidate: level,
		candSince: now,
	}
}

// Update samples the pin. Edges reported by PressEdge and ReleaseEdge refer
// to the most recent Update.
func (b *Button) Update() {
	now := b.clock.NowNs()
	raw := b.pin.Active()
	b.pressEdge, b.relEdge = false, false

	if raw == b.pressed {
		b.candidate = raw
		return
	}
	if raw != b.candidate {
		b.candidate = raw
		b.candSince = now
	}
	if time.Duration(now-b.candSince) < b.debounce {
		return
	}

	b.pressed = raw
	b.since = now
	if raw {
		b.pressEdge = true
	} else {
		b.relEdge = true
	}
}

// Pressed reports the debounced level.
func (b *Button) Pressed() bool { return b.pressed }

// Held reports a press lasting at least the hold time.
func (b *Button) Held() bool {
	return b.pressed && b.HeldFor() >= b.hold
}

// HeldFor is how long the button has been in its current pressed state,
// zero when released.
func (b *Button) HeldFor() time.Duration {
	if !b.pressed {
		return 0
	}
	return time.Duration(b.clock.NowNs() - b.since)
}

// PressEdge reports that the last Update saw the button go down.
func (b *Button) PressEdge() bool { return b.pressEdge }

// ReleaseEdge reports that the last Update saw the button come up.
func (b *Button) ReleaseEdge() bool { return b.relEdge }

// StillPressed samples and reports the level. The capture loop calls it at
// the top of every iteration.
func (b *Button) StillPressed() bool {
	b.Update()
	return b.pressed
}
