package navsensor

import (
	"context"
	"fmt"

	"go.bug.st/serial"

	"github.com/sio-stoke/stoke/internal/clock"
)

// Connect opens the serial port, wraps it and turns async output off.
func Connect(ctx context.Context, port string, baud int, clk clock.Clock) (*VN200, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", port, err)
	}

	v := NewVN200(p, clk)
	if err := v.DisableAsync(ctx); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}
