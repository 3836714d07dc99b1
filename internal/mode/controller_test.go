package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/capture"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/gpio"
	"github.com/sio-stoke/stoke/internal/input"
	"github.com/sio-stoke/stoke/internal/persist"
	"github.com/sio-stoke/stoke/internal/rig"
	"github.com/sio-stoke/stoke/internal/session"
	"github.com/sio-stoke/stoke/internal/trigger"
	"github.com/sio-stoke/stoke/pkg/core"
)

const holdTime = 3 * time.Second

type manualClock struct{ ns atomic.Int64 }

func (c *manualClock) NowNs() int64            { return c.ns.Load() }
func (c *manualClock) advance(d time.Duration) { c.ns.Add(int64(d)) }

type fakeWriter struct {
	mu    sync.Mutex
	jobs  []persist.Job
	waits int
	panic bool
}

func (w *fakeWriter) Submit(_ context.Context, job persist.Job) error {
	if w.panic {
		panic("encoder exploded")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	return nil
}

func (w *fakeWriter) Wait(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits++
	return nil
}

type fakeRecorder struct {
	started []*core.Session
	ended   []*core.Session
	bursts  []core.Burst
}

func (r *fakeRecorder) StartSession(s *core.Session) error {
	r.started = append(r.started, s)
	return nil
}

func (r *fakeRecorder) EndSession(s *core.Session) error {
	r.ended = append(r.ended, s)
	return nil
}

func (r *fakeRecorder) RecordBurst(b *core.Burst) error {
	r.bursts = append(r.bursts, *b)
	return nil
}

type fakePanel struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePanel) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
}

func (p *fakePanel) has(s string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == s {
			return true
		}
	}
	return false
}

func (p *fakePanel) Countdown(ctx context.Context) error { p.add("countdown"); return ctx.Err() }
func (p *fakePanel) AllOff()                             { p.add("off") }
func (p *fakePanel) AllOn()                              { p.add("on") }
func (p *fakePanel) AllBlink(on, off time.Duration)      { p.add("blink") }
func (p *fakePanel) ShowFix(fix core.FixClass, known bool) {
	p.add(fmt.Sprintf("fix %s %v", fix, known))
}
func (p *fakePanel) ShowProfile(idx int)  { p.add(fmt.Sprintf("profile %d", idx)) }
func (p *fakePanel) Standby()             { p.add("standby") }
func (p *fakePanel) Capturing(on bool)    { p.add(fmt.Sprintf("capturing %v", on)) }
func (p *fakePanel) Error()               { p.add("error") }

type fakeFix struct{ fix core.FixClass }

func (f fakeFix) FixQuality(context.Context) (core.FixClass, error) { return f.fix, nil }

var profiles = []core.Profile{
	{Name: "auto", FrameRate: 25, ExposureUs: 2000, Strategy: "burst"},
	{Name: "fast", FrameRate: 25, ExposureUs: 500, Strategy: "burst"},
	{Name: "dark", FrameRate: 10, ExposureUs: 8000, Strategy: "count", FrameCount: 4},
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clk       *manualClock
	primary   *gpio.Virtual
	secondary *gpio.Virtual
	rig       *rig.Rig
	writer    *fakeWriter
	recorder  *fakeRecorder
	panel     *fakePanel
	sc        *session.Context
	ctrl      *Controller

	// the observer lifts the primary input after this many iterations
	releaseAfter atomic.Int32
}

func newFixture(t *testing.T, profs []core.Profile, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		clk:       &manualClock{},
		primary:   gpio.NewVirtual("primary", false),
		secondary: gpio.NewVirtual("secondary", false),
		writer:    &fakeWriter{},
		recorder:  &fakeRecorder{},
		panel:     &fakePanel{},
		sc:        session.NewContext(),
	}

	var n atomic.Int64
	fast := clock.Func(func() int64 { return n.Add(int64(20 * time.Microsecond)) })
	pulser, err := trigger.NewPulser(gpio.NewVirtual("trigger", true), fast, true)
	require.NoError(t, err)
	sources := [2]camera.Source{camera.NewSynthetic(fast), camera.NewSynthetic(fast)}
	f.rig = rig.New(sources, pulser, camera.TriggerMode{}, fast, rig.Config{
		Width:          8,
		Height:         4,
		Format:         camera.FormatGrey,
		RingCapacity:   32,
		CaptureTimeout: time.Second,
	}, nil, capture.WithObserver(func(it capture.Iteration) {
		if n := f.releaseAfter.Load(); n > 0 && it.Sequence >= int(n) {
			_ = f.primary.Out(false)
		}
	}))

	provider := session.NewProvider(t.TempDir())
	f.ctrl, err = NewController(Deps{
		Primary:   input.New("primary", f.primary, f.clk, holdTime, 0),
		Secondary: input.New("secondary", f.secondary, f.clk, holdTime, 0),
		Rig:       f.rig,
		Writer:    f.writer,
		Recorder:  f.recorder,
		Sessions:  provider,
		Panel:     f.panel,
		Context:   f.sc,
		Fix:       fakeFix{fix: core.Fix3D},
		Clock:     f.clk,
	}, profs, 0, true, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.rig.Release() })
	return f
}

func testOptions() Options {
	o := DefaultOptions()
	o.PollInterval = time.Millisecond
	o.CalibFrames = 2
	o.CalibInterval = 0
	o.CalibLead = 0
	o.DrainTimeout = time.Second
	return o
}

func (f *fixture) step() SystemMode {
	f.t.Helper()
	m, err := f.ctrl.Step(f.ctx)
	require.NoError(f.t, err)
	return m
}

// set drives the inputs and steps once.
func (f *fixture) set(primary, secondary bool) SystemMode {
	f.t.Helper()
	_ = f.primary.Out(primary)
	_ = f.secondary.Out(secondary)
	return f.step()
}

// hold waits out the hold time with the current inputs and steps.
func (f *fixture) hold() SystemMode {
	f.clk.advance(holdTime)
	return f.step()
}

func (f *fixture) enterStandby() {
	f.t.Helper()
	f.set(true, false)
	require.Equal(f.t, Standby, f.hold())
	f.set(false, false)
}

func TestSystemModeString(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "Capturing", Capturing.String())
	assert.Equal(t, "Exiting", Exiting.String())
	assert.Equal(t, "SystemMode(42)", SystemMode(42).String())
}

func TestNewController_Validates(t *testing.T) {
	_, err := NewController(Deps{}, profiles, 0, false, DefaultOptions())
	assert.Error(t, err)
	_, err = NewController(Deps{}, nil, 0, false, DefaultOptions())
	assert.Error(t, err)
	_, err = NewController(Deps{}, profiles, 3, false, DefaultOptions())
	assert.Error(t, err)
}

func TestIdle_ShowsFix(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	assert.Equal(t, Idle, f.step())
	assert.True(t, f.panel.has("fix Fix3D true"))
}

func TestStandby_BurstAndExit(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.step()
	f.enterStandby()
	assert.Equal(t, "Standby", f.sc.Mode())
	require.Len(t, f.recorder.started, 1)
	sess := f.recorder.started[0]
	assert.Equal(t, session.KindSession, sess.Kind)
	assert.True(t, sess.Synced)
	assert.Same(t, sess, f.sc.Session())

	// the entry hold does not start a burst; a fresh press does
	f.releaseAfter.Store(3)
	assert.Equal(t, Standby, f.set(true, false))
	assert.True(t, f.panel.has("capturing true"))
	assert.True(t, f.panel.has("capturing false"))

	require.Len(t, f.writer.jobs, 1)
	job := f.writer.jobs[0]
	assert.Same(t, sess, job.Session)
	require.Len(t, job.Batch.Records[0], 3)
	require.Len(t, job.Batch.Records[1], 3)
	for i := 0; i < 3; i++ {
		a, b := job.Batch.Records[0][i], job.Batch.Records[1][i]
		assert.Equal(t, i+1, a.SequenceIndex)
		assert.Equal(t, a.SequenceIndex, b.SequenceIndex)
		assert.Equal(t, a.CaptureTimestamp, b.CaptureTimestamp)
	}
	require.Len(t, f.recorder.bursts, 1)
	assert.Equal(t, 3, f.recorder.bursts[0].Captured)
	assert.Equal(t, sess.UUID, f.recorder.bursts[0].SessionUUID)
	assert.Equal(t, [2]int{}, f.rig.Occupancy(), "rings empty after hand-off")

	// both held leaves standby and closes the session after the writer drains
	f.set(true, true)
	assert.Equal(t, Idle, f.hold())
	require.Len(t, f.recorder.ended, 1)
	assert.Equal(t, 1, f.writer.waits)
	assert.False(t, f.recorder.ended[0].EndTime.IsZero())
	assert.Nil(t, f.sc.Session())

	// still holding both does not enter ModeToggle
	assert.Equal(t, Idle, f.hold())
	f.set(false, false)
	assert.Equal(t, Idle, f.step())
}

func TestStandby_FixedCountProfile(t *testing.T) {
	f := newFixture(t, profiles[2:], testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.enterStandby()
	f.set(true, false)
	require.Len(t, f.writer.jobs, 1)
	assert.Equal(t, 4, f.writer.jobs[0].Batch.Pairs())
	assert.Equal(t, "count", f.recorder.bursts[0].Strategy)
}

func TestEntryRequiresOtherInputReleased(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.set(true, false)
	f.clk.advance(holdTime / 2)
	f.set(true, true)
	f.clk.advance(holdTime / 2)
	assert.Equal(t, Idle, f.step(), "primary held but secondary pressed")
	assert.Empty(t, f.recorder.started)

	assert.Equal(t, ModeToggle, f.hold(), "both held")
}

func TestModeToggle_Exit(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.set(true, true)
	assert.Equal(t, ModeToggle, f.hold())
	assert.True(t, f.panel.has("on"))

	_ = f.secondary.Out(false)
	require.NoError(t, f.ctrl.Run(f.ctx))
	assert.Equal(t, Exiting, f.ctrl.Mode())
	assert.Equal(t, "Exiting", f.sc.Mode())
	assert.True(t, f.rig.IsOpen(), "hardware is released by the caller")
}

func TestModeToggle_SelectProfile(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.set(true, true)
	require.Equal(t, ModeToggle, f.hold())
	f.set(false, true)
	assert.Equal(t, ModeToggle, f.set(false, false))
	assert.False(t, f.rig.IsOpen(), "cameras closed while selecting")
	assert.True(t, f.panel.has("profile 0"))

	f.set(true, false)
	f.set(false, false)
	assert.True(t, f.panel.has("profile 1"))
	assert.Equal(t, "auto", f.ctrl.Profile().Name, "not applied until confirmed")

	f.set(true, true)
	assert.Equal(t, Idle, f.hold())
	assert.Equal(t, "fast", f.ctrl.Profile().Name)
	assert.True(t, f.rig.IsOpen())
	assert.Equal(t, trigger.Micros(500), f.rig.Timing().Exposure)
}

func TestCalibration(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))

	f.set(false, true)
	assert.Equal(t, Idle, f.hold(), "calibration runs to completion")

	require.Len(t, f.recorder.started, 1)
	sess := f.recorder.started[0]
	assert.Equal(t, session.KindCalibration, sess.Kind)
	assert.Contains(t, sess.Label, "calib_auto")
	require.Len(t, f.recorder.ended, 1)

	require.Len(t, f.writer.jobs, 1)
	assert.Equal(t, 2, f.writer.jobs[0].Batch.Pairs())
	assert.Equal(t, "calibration", f.writer.jobs[0].Batch.Strategy)
	assert.True(t, f.panel.has("countdown"))
}

func TestConfigurationErrorIsNotFatal(t *testing.T) {
	bad := []core.Profile{{Name: "bad", FrameRate: 25, ExposureUs: 50000, Strategy: "burst"}}
	f := newFixture(t, bad, testOptions())

	err := f.ctrl.Start(f.ctx)
	assert.ErrorIs(t, err, trigger.ErrExposureExceedsPeriod)
	assert.True(t, f.panel.has("error"))

	f.set(true, false)
	assert.Equal(t, Idle, f.hold())
	assert.Empty(t, f.recorder.started)
	assert.False(t, f.rig.IsOpen())
}

func TestRun_PanicDuringCaptureExits(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))
	f.enterStandby()

	f.writer.panic = true
	f.releaseAfter.Store(1)
	_ = f.primary.Out(true)

	err := f.ctrl.Run(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, Exiting, f.ctrl.Mode())
	require.Len(t, f.recorder.ended, 1, "session closed on the way out")
	assert.Nil(t, f.sc.Session())
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Exiting, f.ctrl.Mode())
}

func TestClose(t *testing.T) {
	f := newFixture(t, profiles, testOptions())
	require.NoError(t, f.ctrl.Start(f.ctx))
	f.enterStandby()

	require.NoError(t, f.ctrl.Close(f.ctx))
	assert.False(t, f.rig.IsOpen())
	assert.Len(t, f.recorder.ended, 1)
}
