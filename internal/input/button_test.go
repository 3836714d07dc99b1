package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ now int64 }

func (c *manualClock) NowNs() int64            { return c.now }
func (c *manualClock) advance(d time.Duration) { c.now += int64(d) }

type level struct{ on bool }

func (l *level) Active() bool { return l.on }

func TestButton_PressHoldRelease(t *testing.T) {
	clk := &manualClock{}
	pin := &level{}
	b := New("primary", pin, clk, 3*time.Second, 0)

	b.Update()
	assert.False(t, b.Pressed())

	pin.on = true
	b.Update()
	assert.True(t, b.Pressed())
	assert.True(t, b.PressEdge())
	assert.False(t, b.Held())

	clk.advance(2 * time.Second)
	b.Update()
	assert.False(t, b.PressEdge(), "edge lasts one update")
	assert.False(t, b.Held())

	clk.advance(time.Second)
	b.Update()
	assert.True(t, b.Held())
	assert.Equal(t, 3*time.Second, b.HeldFor())

	pin.on = false
	b.Update()
	assert.True(t, b.ReleaseEdge())
	assert.False(t, b.Held())
	assert.Equal(t, time.Duration(0), b.HeldFor())
}

func TestButton_Debounce(t *testing.T) {
	clk := &manualClock{}
	pin := &level{}
	b := New("secondary", pin, clk, time.Second, 20*time.Millisecond)

	pin.on = true
	b.Update()
	assert.False(t, b.Pressed(), "not yet stable")

	clk.advance(10 * time.Millisecond)
	pin.on = false
	b.Update()
	pin.on = true
	b.Update()
	assert.False(t, b.Pressed(), "bounce restarts the window")

	clk.advance(25 * time.Millisecond)
	b.Update()
	assert.True(t, b.Pressed())
	assert.True(t, b.PressEdge())
}

func TestButton_StartsPressed(t *testing.T) {
	clk := &manualClock{}
	pin := &level{on: true}
	b := New("primary", pin, clk, time.Second, 0)

	b.Update()
	assert.True(t, b.Pressed())
	assert.False(t, b.PressEdge(), "no edge for a button already down at start")
}

func TestButton_StillPressed(t *testing.T) {
	clk := &manualClock{}
	pin := &level{on: true}
	b := New("primary", pin, clk, time.Second, 0)

	assert.True(t, b.StillPressed())
	pin.on = false
	assert.False(t, b.StillPressed())
}
