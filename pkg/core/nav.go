// pkg/core/nav.go
package core

import (
	"fmt"
	"strings"
	"time"
)

// FixClass is the navigation solution quality reported by the reference.
// Values are ordered: a higher class is a better fix.
type FixClass int

const (
	NoFix FixClass = iota
	TimeFix
	Fix2D
	Fix3D
	SBAS
	RtkFloat
	RtkFix
)

var fixClassNames = []string{"NoFix", "TimeFix", "Fix2D", "Fix3D", "SBAS", "RtkFloat", "RtkFix"}

func (f FixClass) String() string {
	if f < 0 || int(f) >= len(fixClassNames) {
		return fmt.Sprintf("FixClass(%d)", int(f))
	}
	return fixClassNames[f]
}

// AtLeast reports whether f is as good as or better than min.
func (f FixClass) AtLeast(min FixClass) bool {
	return f >= min
}

// ParseFixClass accepts the names returned by String, case-insensitively.
func ParseFixClass(s string) (FixClass, error) {
	for i, name := range fixClassNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return FixClass(i), nil
		}
	}
	return NoFix, fmt.Errorf("unknown fix class %q", s)
}

// Position3D is a geodetic position: X longitude, Y latitude, Z altitude (m).
type Position3D struct {
	X float64
	Y float64
	Z float64
}

// NavSample is one polled navigation reading.
type NavSample struct {
	SessionUUID string
	Time        time.Time
	MonotonicNs int64
	Fix         FixClass
	NumSats     int
	Position    Position3D
}
