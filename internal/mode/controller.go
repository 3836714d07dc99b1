package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sio-stoke/stoke/internal/capture"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/input"
	"github.com/sio-stoke/stoke/internal/persist"
	"github.com/sio-stoke/stoke/internal/session"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Rig is the sensor session.
type Rig interface {
	Open(ctx context.Context, p core.Profile) error
	Close() error
	IsOpen() bool
	Coordinator() (*capture.Coordinator, error)
}

// Writer is the persistence pipeline.
type Writer interface {
	Submit(ctx context.Context, job persist.Job) error
	Wait(ctx context.Context) error
}

// Recorder receives session and burst metadata.
type Recorder interface {
	StartSession(s *core.Session) error
	EndSession(s *core.Session) error
	RecordBurst(b *core.Burst) error
}

// Sessions creates output sessions.
type Sessions interface {
	Open(kind string, profile core.Profile, synced bool) (*core.Session, error)
}

// Indicator is the LED panel.
type Indicator interface {
	capture.Cue
	AllOn()
	AllBlink(on, off time.Duration)
	ShowFix(fix core.FixClass, known bool)
	ShowProfile(idx int)
	Standby()
	Capturing(on bool)
	Error()
}

// FixSource reports the navigation fix for the idle indicator.
type FixSource interface {
	FixQuality(ctx context.Context) (core.FixClass, error)
}

// NavRecorder records nav samples while a session is open.
type NavRecorder interface {
	Start(ctx context.Context, sessionUUID string) (stop func())
}

// Deps are the collaborators of a Controller. Fix and Nav may be nil.
type Deps struct {
	Primary   *input.Button
	Secondary *input.Button
	Rig       Rig
	Writer    Writer
	Recorder  Recorder
	Sessions  Sessions
	Panel     Indicator
	Context   *session.Context
	Fix       FixSource
	Nav       NavRecorder
	Clock     clock.Clock
	Now       func() time.Time
	Logger    *slog.Logger
}

// Options tune the controller.
type Options struct {
	PollInterval  time.Duration
	FixInterval   time.Duration
	CalibFrames   int
	CalibInterval time.Duration
	// CalibLead is how long every LED stays lit before calibration starts.
	CalibLead time.Duration
	// DrainTimeout bounds the wait for the writer when a session closes.
	DrainTimeout time.Duration
}

// DefaultOptions match the field rig.
func DefaultOptions() Options {
	return Options{
		PollInterval:  50 * time.Millisecond,
		FixInterval:   10 * time.Second,
		CalibFrames:   20,
		CalibInterval: 2 * time.Second,
		CalibLead:     5 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

// Controller is the mode state machine. Step and Run must be called from a
// single goroutine.
type Controller struct {
	deps     Deps
	opts     Options
	profiles []core.Profile
	synced   bool
	logger   *slog.Logger

	mode       SystemMode
	profileIdx int
	// set on every state exit; no entry until both inputs are released
	latched bool
	toggle  togglePhase
	pick    int
	chord   bool
	lastFix int64

	sess    *core.Session
	stopNav func()
}

// NewController creates a controller in Idle. synced records whether clock
// synchronization succeeded and is stamped on every session.
func NewController(deps Deps, profiles []core.Profile, profileIdx int, synced bool, opts Options) (*Controller, error) {
	if len(profiles) == 0 {
		return nil, errors.New("at least one profile is required")
	}
	if profileIdx < 0 || profileIdx >= len(profiles) {
		return nil, fmt.Errorf("profile index %d out of range", profileIdx)
	}
	if deps.Primary == nil || deps.Secondary == nil || deps.Rig == nil || deps.Writer == nil ||
		deps.Recorder == nil || deps.Sessions == nil || deps.Panel == nil || deps.Context == nil || deps.Clock == nil {
		return nil, errors.New("missing controller dependency")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Controller{
		deps:       deps,
		opts:       opts,
		profiles:   profiles,
		profileIdx: profileIdx,
		synced:     synced,
		logger:     deps.Logger.With("component", "mode"),
		lastFix:    deps.Clock.NowNs() - int64(opts.FixInterval),
	}
	deps.Context.SetMode(Idle.String())
	return c, nil
}

// Mode returns the current state.
func (c *Controller) Mode() SystemMode { return c.mode }

// Profile returns the selected shooting profile.
func (c *Controller) Profile() core.Profile { return c.profiles[c.profileIdx] }

// Start opens the sensor session with the selected profile. A configuration
// error is shown on the panel and returned; Standby entry retries the open.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.deps.Rig.Open(ctx, c.Profile()); err != nil {
		c.deps.Panel.Error()
		c.logger.Error("Failed to open sensor session", "profile", c.Profile().Name, "error", err)
		return err
	}
	return nil
}

// Close ends any open session and closes the sensor session.
func (c *Controller) Close(ctx context.Context) error {
	errs := []error{c.closeSession(ctx)}
	errs = append(errs, c.deps.Rig.Close())
	c.deps.Panel.AllOff()
	return errors.Join(errs...)
}

func (c *Controller) transition(to SystemMode) {
	if c.mode == to {
		return
	}
	c.logger.Info("Mode change", "from", c.mode.String(), "to", to.String())
	c.mode = to
	c.deps.Context.SetMode(to.String())
}

// leave performs the exit cleanup common to every state and returns to Idle.
func (c *Controller) leave(ctx context.Context) error {
	err := c.closeSession(ctx)
	c.deps.Panel.AllOff()
	c.latched = true
	c.transition(Idle)
	c.lastFix = c.deps.Clock.NowNs() - int64(c.opts.FixInterval)
	return err
}

// Run polls until Exiting or ctx ends. A panic or an unexpected capture
// error ends the loop in Exiting with the session closed; the caller then
// releases the hardware.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mode controller panic: %v", r)
			c.logger.Error("Panic in control loop",
				"mode", c.mode.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if err != nil {
			c.fail(err)
		}
	}()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		m, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if m == Exiting {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) fail(err error) {
	// the caller's ctx may already be done
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	defer cancel()
	if cerr := c.closeSession(ctx); cerr != nil {
		c.logger.Error("Failed to close session", "error", cerr)
	}
	c.deps.Panel.Error()
	c.transition(Exiting)
	if !errors.Is(err, context.Canceled) {
		c.logger.Error("Control loop stopped", "error", err)
	}
}

// Step samples both inputs and advances the state machine once. Capturing
// and Calibrating run to completion inside Step.
func (c *Controller) Step(ctx context.Context) (SystemMode, error) {
	c.deps.Primary.Update()
	c.deps.Secondary.Update()

	var err error
	switch c.mode {
	case Idle:
		err = c.stepIdle(ctx)
	case Standby:
		err = c.stepStandby(ctx)
	case ModeToggle:
		err = c.stepToggle(ctx)
	case Exiting:
	default:
		err = fmt.Errorf("step in transient mode %s", c.mode)
	}
	return c.mode, err
}

func (c *Controller) stepIdle(ctx context.Context) error {
	p, s := c.deps.Primary, c.deps.Secondary

	if c.latched {
		if !p.Pressed() && !s.Pressed() {
			c.latched = false
		}
		return nil
	}

	switch {
	case p.Held() && s.Held():
		c.enterToggle()
	case p.Held() && !s.Pressed():
		return c.enterStandby(ctx)
	case s.Held() && !p.Pressed():
		return c.runCalibration(ctx)
	default:
		c.refreshFix(ctx)
	}
	return nil
}

func (c *Controller) refreshFix(ctx context.Context) {
	if c.deps.Fix == nil || c.opts.FixInterval <= 0 {
		return
	}
	now := c.deps.Clock.NowNs()
	if now-c.lastFix < int64(c.opts.FixInterval) {
		return
	}
	c.lastFix = now

	fctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	fix, err := c.deps.Fix.FixQuality(fctx)
	if err != nil {
		c.logger.Debug("Fix unavailable", "error", err)
	}
	c.deps.Panel.ShowFix(fix, err == nil)
}

// ensureRig opens the sensor session if a previous open failed.
func (c *Controller) ensureRig(ctx context.Context) error {
	if c.deps.Rig.IsOpen() {
		return nil
	}
	return c.Start(ctx)
}

func (c *Controller) openSession(kind string) error {
	sess, err := c.deps.Sessions.Open(kind, c.Profile(), c.synced)
	if err != nil {
		return fmt.Errorf("opening %s session: %w", kind, err)
	}
	if err := c.deps.Recorder.StartSession(sess); err != nil {
		return err
	}
	c.sess = sess
	c.deps.Context.Begin(sess)
	if c.deps.Nav != nil {
		c.stopNav = c.deps.Nav.Start(context.Background(), sess.UUID)
	}
	return nil
}

// closeSession waits for the writer to finish the session's batches before
// ending it, so the frame index is complete.
func (c *Controller) closeSession(ctx context.Context) error {
	if c.sess == nil {
		return nil
	}
	if c.stopNav != nil {
		c.stopNav()
		c.stopNav = nil
	}

	var errs []error
	wctx, cancel := context.WithTimeout(ctx, c.opts.DrainTimeout)
	if err := c.deps.Writer.Wait(wctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for writer: %w", err))
	}
	cancel()

	sess := c.sess
	c.sess = nil
	c.deps.Context.End()
	sess.EndTime = c.deps.Now().UTC()
	errs = append(errs, c.deps.Recorder.EndSession(sess))
	return errors.Join(errs...)
}

func (c *Controller) enterStandby(ctx context.Context) error {
	if err := c.ensureRig(ctx); err != nil {
		c.latched = true
		return nil
	}
	if err := c.openSession(session.KindSession); err != nil {
		c.deps.Panel.Error()
		c.logger.Error("Standby entry failed", "error", err)
		c.latched = true
		return nil
	}
	c.deps.Panel.AllOff()
	c.deps.Panel.Standby()
	c.transition(Standby)
	return nil
}

func (c *Controller) stepStandby(ctx context.Context) error {
	p, s := c.deps.Primary, c.deps.Secondary

	switch {
	case p.Held() && s.Held():
		c.logger.Info("Exiting standby", "session", c.sess.Label)
		return c.leave(ctx)
	case p.PressEdge() && !s.Pressed():
		return c.runBurst(ctx)
	}
	return nil
}

func (c *Controller) strategy() capture.Strategy {
	if p := c.Profile(); p.Strategy == "count" && p.FrameCount > 0 {
		return capture.FixedCount(p.FrameCount)
	}
	return capture.Burst(c.deps.Primary.StillPressed)
}

func (c *Controller) runBurst(ctx context.Context) error {
	coord, err := c.deps.Rig.Coordinator()
	if err != nil {
		return err
	}

	c.transition(Capturing)
	c.deps.Panel.Capturing(true)
	err = c.capture(ctx, coord, c.strategy())
	c.deps.Panel.Capturing(false)
	if err != nil {
		return err
	}
	c.transition(Standby)
	return nil
}

// capture runs one burst and hands the batch to the writer. Frames already
// buffered are handed off even when the burst ended with an error.
func (c *Controller) capture(ctx context.Context, coord *capture.Coordinator, strategy capture.Strategy) error {
	start := c.deps.Now().UTC()
	batch, sum, runErr := coord.Run(ctx, strategy)

	// the batch is already drained; submit even when ctx is done
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.DrainTimeout)
	defer cancel()

	var errs []error
	if batch.Len() > 0 {
		if err := c.deps.Writer.Submit(sctx, persist.Job{Batch: batch, Session: c.sess}); err != nil {
			batch.Release()
			errs = append(errs, err)
		}
	}
	burst := sum.Burst(c.sess.UUID)
	burst.StartTime = start
	if err := c.deps.Recorder.RecordBurst(&burst); err != nil {
		c.logger.Error("Failed to record burst", "burst", burst.UUID, "error", err)
	}
	if runErr != nil {
		errs = append(errs, runErr)
	}
	return errors.Join(errs...)
}

func (c *Controller) runCalibration(ctx context.Context) error {
	if err := c.ensureRig(ctx); err != nil {
		c.latched = true
		return nil
	}
	coord, err := c.deps.Rig.Coordinator()
	if err != nil {
		return err
	}
	if err := c.openSession(session.KindCalibration); err != nil {
		c.deps.Panel.Error()
		c.logger.Error("Calibration entry failed", "error", err)
		c.latched = true
		return nil
	}
	c.transition(Calibrating)

	c.deps.Panel.AllOn()
	if err := sleep(ctx, c.opts.CalibLead); err != nil {
		return err
	}
	c.deps.Panel.AllOff()

	err = c.capture(ctx, coord, capture.Calibration(c.opts.CalibFrames, c.opts.CalibInterval, c.deps.Panel))
	if err != nil {
		return err
	}
	return c.leave(ctx)
}

func (c *Controller) enterToggle() {
	c.deps.Panel.AllOn()
	c.toggle = toggleConfirm
	c.transition(ModeToggle)
}

func (c *Controller) stepToggle(ctx context.Context) error {
	p, s := c.deps.Primary, c.deps.Secondary

	switch c.toggle {
	case toggleConfirm:
		if s.Pressed() {
			return nil
		}
		if p.Pressed() {
			c.logger.Info("Exit requested")
			c.deps.Panel.AllOff()
			c.transition(Exiting)
			return nil
		}
		// cameras stay closed while the operator picks a profile
		if err := c.deps.Rig.Close(); err != nil {
			c.logger.Error("Failed to close sensor session", "error", err)
		}
		c.toggle = toggleSelect
		c.pick = c.profileIdx
		c.chord = false
		c.deps.Panel.AllOff()
		c.deps.Panel.ShowProfile(c.pick)

	case toggleSelect:
		if p.Pressed() && s.Pressed() {
			c.chord = true
		}
		switch {
		case p.Held() && s.Held():
			return c.confirmProfile(ctx)
		case p.ReleaseEdge() && !s.Pressed() && !c.chord:
			c.pick = (c.pick + 1) % len(c.profiles)
			c.deps.Panel.ShowProfile(c.pick)
		}
		if !p.Pressed() && !s.Pressed() {
			c.chord = false
		}
	}
	return nil
}

func (c *Controller) confirmProfile(ctx context.Context) error {
	c.profileIdx = c.pick
	c.logger.Info("Profile selected", "profile", c.Profile().Name, "index", c.profileIdx)
	c.deps.Panel.AllOff()
	if err := c.Start(ctx); err != nil {
		c.latched = true
		c.transition(Idle)
		return nil
	}
	return c.leave(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
