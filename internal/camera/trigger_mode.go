package camera

import (
	"fmt"
	"os"
)

// TriggerMode switches the sensor driver between free-running and
// external-trigger exposure through its module parameter.
type TriggerMode struct {
	Path string
}

// Enable selects external-trigger mode.
func (t TriggerMode) Enable() error { return t.write("1") }

// Disable returns the sensor to free-running mode.
func (t TriggerMode) Disable() error { return t.write("0") }

func (t TriggerMode) write(v string) error {
	if t.Path == "" {
		return nil
	}
	if err := os.WriteFile(t.Path, []byte(v), 0); err != nil {
		return fmt.Errorf("setting trigger mode %s: %w", v, err)
	}
	return nil
}
