package main

import (
	"errors"
	"fmt"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/internal/gpio"
	"github.com/sio-stoke/stoke/internal/indicator"
	"github.com/sio-stoke/stoke/internal/input"
	"github.com/sio-stoke/stoke/internal/trigger"
)

type releaser interface {
	Release() error
}

// hardware is every line and sensor the rig claims. In a dry run all of it
// is virtual and the buttons are driven from stdin.
type hardware struct {
	trigger            trigger.Line
	primary, secondary input.Pin
	green, yellow, red indicator.Line
	sources            [2]camera.Source

	// set in a dry run only
	virtualPrimary, virtualSecondary *gpio.Virtual

	claimed []releaser
}

func openHardware(dryRun bool, pins config.PinConfig, cam config.CameraConfig, clk clock.Clock) (*hardware, error) {
	hw := &hardware{}
	if dryRun {
		hw.openVirtual(pins)
	} else if err := hw.openGPIO(pins); err != nil {
		hw.abort()
		return nil, err
	}

	driver := cam.Driver
	if dryRun {
		driver = "synthetic"
	}
	for i := range hw.sources {
		switch driver {
		case "v4l2":
			hw.sources[i] = camera.NewV4L2(clk)
		case "synthetic":
			hw.sources[i] = camera.NewSynthetic(clk)
		default:
			hw.abort()
			return nil, fmt.Errorf("unknown camera driver: %s", driver)
		}
	}
	return hw, nil
}

func (hw *hardware) openVirtual(pins config.PinConfig) {
	// the trigger idles de-asserted
	trig := gpio.NewVirtual(pins.Trigger, pins.TriggerActiveLow)
	hw.virtualPrimary = gpio.NewVirtual(pins.Primary, false)
	hw.virtualSecondary = gpio.NewVirtual(pins.Secondary, false)
	green := gpio.NewVirtual(pins.Green, false)
	yellow := gpio.NewVirtual(pins.Yellow, false)
	red := gpio.NewVirtual(pins.Red, false)

	hw.trigger = trig
	hw.primary, hw.secondary = hw.virtualPrimary, hw.virtualSecondary
	hw.green, hw.yellow, hw.red = green, yellow, red
	hw.claimed = []releaser{hw.virtualPrimary, hw.virtualSecondary, green, yellow, red}
}

func (hw *hardware) openGPIO(pins config.PinConfig) error {
	if err := gpio.Init(); err != nil {
		return err
	}

	trig, err := gpio.OpenOutput(pins.Trigger, pins.TriggerActiveLow)
	if err != nil {
		return err
	}
	hw.trigger = trig

	primary, err := gpio.OpenInput(pins.Primary, true)
	if err != nil {
		return err
	}
	hw.claimed = append(hw.claimed, primary)
	secondary, err := gpio.OpenInput(pins.Secondary, true)
	if err != nil {
		return err
	}
	hw.claimed = append(hw.claimed, secondary)
	hw.primary, hw.secondary = primary, secondary

	var leds [3]*gpio.Output
	for i, name := range []string{pins.Green, pins.Yellow, pins.Red} {
		if leds[i], err = gpio.OpenOutput(name, false); err != nil {
			return err
		}
		hw.claimed = append(hw.claimed, leds[i])
	}
	hw.green, hw.yellow, hw.red = leds[0], leds[1], leds[2]
	return nil
}

// release frees the input and LED lines. The trigger line is released by the
// pulser, after it has been de-asserted.
func (hw *hardware) release() error {
	var errs []error
	for _, r := range hw.claimed {
		errs = append(errs, r.Release())
	}
	hw.claimed = nil
	return errors.Join(errs...)
}

// abort releases everything claimed so far, the trigger line included, when
// opening fails part way.
func (hw *hardware) abort() {
	_ = hw.release()
	if r, ok := hw.trigger.(releaser); ok {
		_ = r.Release()
	}
}
