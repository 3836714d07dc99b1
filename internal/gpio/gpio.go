// Package gpio binds rig functions to GPIO lines through periph.io.
package gpio

import (
	"fmt"

	periph "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Init loads the host drivers. It must run before any Open call.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initializing periph host: %w", err)
	}
	return nil
}

// Output is a push-pull output line.
type Output struct {
	name string
	pin  periph.PinOut
}

// OpenOutput claims the named line and drives it to initial.
func OpenOutput(name string, initial bool) (*Output, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %s not found", name)
	}
	o := &Output{name: name, pin: p}
	if err := o.Out(initial); err != nil {
		return nil, err
	}
	return o, nil
}

// Out drives the line high or low.
func (o *Output) Out(high bool) error {
	if err := o.pin.Out(level(high)); err != nil {
		return fmt.Errorf("gpio %s: %w", o.name, err)
	}
	return nil
}

// Release stops driving the line.
func (o *Output) Release() error {
	return o.pin.Halt()
}

func (o *Output) String() string { return o.name }

// Input is a button line with the internal pull resistor enabled.
type Input struct {
	name      string
	pin       periph.PinIn
	activeLow bool
}

// OpenInput claims the named line. An active-low input is pulled up and
// reads active when shorted to ground, which is how the rig's buttons are
// wired.
func OpenInput(name string, activeLow bool) (*Input, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %s not found", name)
	}
	pull := periph.PullDown
	if activeLow {
		pull = periph.PullUp
	}
	if err := p.In(pull, periph.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio %s: %w", name, err)
	}
	return &Input{name: name, pin: p, activeLow: activeLow}, nil
}

// Active reports whether the input is asserted.
func (i *Input) Active() bool {
	return (i.pin.Read() == periph.High) != i.activeLow
}

// Release returns the line to its default state.
func (i *Input) Release() error {
	return i.pin.Halt()
}

func (i *Input) String() string { return i.name }

func level(high bool) periph.Level {
	if high {
		return periph.High
	}
	return periph.Low
}
