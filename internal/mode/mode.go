// Package mode is the operator-facing state machine. It polls the two
// control inputs and is the only owner of the sensor session, the capture
// loop and the output session.
package mode

import (
	"fmt"
)

// SystemMode is the controller state.
type SystemMode int

const (
	Idle SystemMode = iota
	Standby
	Capturing
	Calibrating
	ModeToggle
	Exiting
)

var modeNames = [...]string{"Idle", "Standby", "Capturing", "Calibrating", "ModeToggle", "Exiting"}

func (m SystemMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("SystemMode(%d)", int(m))
	}
	return modeNames[m]
}

// togglePhase tracks progress through ModeToggle.
type togglePhase int

const (
	// both inputs held; releasing the secondary first decides exit vs toggle
	toggleConfirm togglePhase = iota
	toggleSelect
)
