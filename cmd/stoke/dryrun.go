package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/sio-stoke/stoke/internal/gpio"
)

// driveFromStdin toggles the virtual buttons from console lines: "p" flips
// the primary button, "s" the secondary, "b" both, and "q" quits.
func driveFromStdin(ctx context.Context, r io.Reader, primary, secondary *gpio.Virtual, quit context.CancelFunc, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "p":
			logger.Info("Primary button", "pressed", primary.Toggle())
		case "s":
			logger.Info("Secondary button", "pressed", secondary.Toggle())
		case "b":
			logger.Info("Both buttons", "primary", primary.Toggle(), "secondary", secondary.Toggle())
		case "q":
			quit()
			return
		case "":
		default:
			logger.Warn("Unknown dry-run command", "input", sc.Text())
		}
	}
}
