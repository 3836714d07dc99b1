package gpio

import "sync"

// Virtual is an in-memory line used for dry runs. It can stand in for an
// output or an input.
type Virtual struct {
	name string

	mu       sync.Mutex
	high     bool
	released bool
	writes   int
}

// NewVirtual creates a virtual line at the given level.
func NewVirtual(name string, high bool) *Virtual {
	return &Virtual{name: name, high: high}
}

// Out sets the level.
func (v *Virtual) Out(high bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.high = high
	v.writes++
	return nil
}

// Active reports the level; virtual inputs are active-high.
func (v *Virtual) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.high
}

// Toggle inverts the level and returns the new one.
func (v *Virtual) Toggle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.high = !v.high
	return v.high
}

// Release marks the line released.
func (v *Virtual) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = true
	return nil
}

// Released reports whether Release was called.
func (v *Virtual) Released() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

func (v *Virtual) String() string { return v.name }
