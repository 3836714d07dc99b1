package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLine struct {
	levels   []bool
	at       []int64
	clk      *stepClock
	failOn   int // 1-based call index to fail, 0 never
	released bool
}

func (l *recordingLine) Out(high bool) error {
	l.levels = append(l.levels, high)
	if l.clk != nil {
		l.at = append(l.at, l.clk.now)
	}
	if l.failOn != 0 && len(l.levels) == l.failOn {
		return errors.New("gpio write failed")
	}
	return nil
}

func (l *recordingLine) Release() error {
	l.released = true
	return nil
}

type stepClock struct {
	now  int64
	step int64
}

func (c *stepClock) NowNs() int64 {
	c.now += c.step
	return c.now
}

func TestNewTiming_ReferenceScenario(t *testing.T) {
	tm, err := NewTiming(25, 2000*time.Microsecond, Micros(14.26))
	require.NoError(t, err)

	expected := time.Duration((1.0/25 - (0.002 - 0.00001426)) * 1e9)
	assert.InDelta(t, float64(expected), float64(tm.Idle), 1)
	assert.Equal(t, 40*time.Millisecond, tm.Period)
	assert.Equal(t, 2000*time.Microsecond-14260*time.Nanosecond, tm.Hold)
	assert.GreaterOrEqual(t, tm.Idle, time.Duration(0))
}

func TestNewTiming_RejectsExposureAtOrBeyondPeriod(t *testing.T) {
	_, err := NewTiming(25, 40*time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrExposureExceedsPeriod)

	_, err = NewTiming(100, 15*time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrExposureExceedsPeriod)
}

func TestNewTiming_RejectsInvalidInputs(t *testing.T) {
	_, err := NewTiming(0, time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrInvalidFrameRate)

	_, err = NewTiming(-5, time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrInvalidFrameRate)

	_, err = NewTiming(25, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidExposure)
}

func TestNewTiming_LatencyLargerThanExposureClampsHold(t *testing.T) {
	tm, err := NewTiming(10, 5*time.Microsecond, 20*time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), tm.Hold)
	assert.Equal(t, tm.Period, tm.Idle)
}

func TestNewPulser_IdlesLine(t *testing.T) {
	line := &recordingLine{}
	_, err := NewPulser(line, &stepClock{step: 1}, true)
	require.NoError(t, err)

	// active-low line idles high
	assert.Equal(t, []bool{true}, line.levels)
}

func TestPulse_HoldsForExposure(t *testing.T) {
	clk := &stepClock{step: 1000}
	line := &recordingLine{clk: clk}
	p, err := NewPulser(line, clk, true)
	require.NoError(t, err)

	tm, err := NewTiming(25, 2*time.Millisecond, 0)
	require.NoError(t, err)
	p.SetTiming(tm)

	require.NoError(t, p.Pulse())

	require.Equal(t, []bool{true, false, true}, line.levels)
	held := line.at[2] - line.at[1]
	assert.GreaterOrEqual(t, held, int64(tm.Hold))
}

func TestPulse_ActiveHigh(t *testing.T) {
	line := &recordingLine{}
	p, err := NewPulser(line, &stepClock{step: 1_000_000}, false)
	require.NoError(t, err)
	p.SetTiming(Timing{Hold: time.Millisecond})

	require.NoError(t, p.Pulse())
	assert.Equal(t, []bool{false, true, false}, line.levels)
}

func TestPulse_DeassertsAfterAssertFailure(t *testing.T) {
	line := &recordingLine{failOn: 2}
	p, err := NewPulser(line, &stepClock{step: 1}, true)
	require.NoError(t, err)

	err = p.Pulse()
	require.Error(t, err)
	assert.Equal(t, true, line.levels[len(line.levels)-1], "line must end at idle level")
}

func TestRelease_DeassertsBeforeRelease(t *testing.T) {
	line := &recordingLine{}
	p, err := NewPulser(line, &stepClock{step: 1}, true)
	require.NoError(t, err)

	require.NoError(t, p.Release())
	assert.True(t, line.released)
	assert.Equal(t, true, line.levels[len(line.levels)-1])
}

func TestWarmup(t *testing.T) {
	line := &recordingLine{}
	p, err := NewPulser(line, &stepClock{step: 1_000_000}, true)
	require.NoError(t, err)

	require.NoError(t, p.Warmup(3, time.Millisecond, 0))
	// idle + 3 * (assert, de-assert)
	assert.Len(t, line.levels, 7)
}
