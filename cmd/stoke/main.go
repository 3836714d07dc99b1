package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/clocksync"
	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/internal/geo"
	"github.com/sio-stoke/stoke/internal/indicator"
	"github.com/sio-stoke/stoke/internal/influx"
	"github.com/sio-stoke/stoke/internal/input"
	"github.com/sio-stoke/stoke/internal/logging"
	"github.com/sio-stoke/stoke/internal/mode"
	"github.com/sio-stoke/stoke/internal/monitor"
	"github.com/sio-stoke/stoke/internal/navsensor"
	intOtel "github.com/sio-stoke/stoke/internal/otel"
	"github.com/sio-stoke/stoke/internal/persist"
	"github.com/sio-stoke/stoke/internal/rig"
	"github.com/sio-stoke/stoke/internal/session"
	"github.com/sio-stoke/stoke/internal/storage"
	"github.com/sio-stoke/stoke/internal/telemetry"
	"github.com/sio-stoke/stoke/internal/trigger"
	"github.com/sio-stoke/stoke/pkg/core"
)

// BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

const (
	buttonDebounce = 20 * time.Millisecond
	captureTimeout = 2 * time.Second
	teardownBudget = 45 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "verify" {
		return runVerify(args[1:], os.Stdout)
	}

	fs := pflag.NewFlagSet("stoke", pflag.ContinueOnError)
	config.Flags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	configDir, _ := fs.GetString("config")
	loadErr := config.Load(configDir)
	if err := config.BindFlags(fs); err != nil {
		fmt.Fprintln(os.Stderr, "binding flags:", err)
		return 2
	}

	a := &app{start: time.Now(), sc: session.NewContext()}
	defer a.closeLogs()
	if err := a.setupLogging(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if loadErr != nil {
		a.logger.Warn("Using default configuration", "error", loadErr)
	}
	a.logger.Info("Starting stoke", "version", Version, "buildDate", BuildDate, "dryRun", config.GetBool("dryRun"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := a.runRig(ctx, stop)
	if tdErr := a.teardown(); tdErr != nil {
		a.logger.Error("Teardown incomplete", "error", tdErr)
		if err == nil {
			err = tdErr
		}
	}
	if err != nil {
		a.logger.Error("Exiting after fatal error", "error", err)
		return 1
	}
	a.logger.Info("Exited cleanly")
	return 0
}

// app holds everything main brings up, so teardown can release it in order
// whatever step failed.
type app struct {
	start time.Time
	sc    *session.Context

	slog     *logging.SlogManager
	logger   *slog.Logger
	logFile  *os.File
	otelFile *os.File
	otel     *intOtel.Provider
	gelf     io.Closer
	zlog     zerolog.Logger

	backend  storage.Backend
	influx   *influx.Manager
	sink     *telemetry.Sink
	ref      *navsensor.VN200
	hw       *hardware
	pulser   *trigger.Pulser
	rig      *rig.Rig
	pipeline *persist.Pipeline
	panel    *indicator.Panel
	monitor  *monitor.Service
	ctrl     *mode.Controller
}

func (a *app) setupLogging() error {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	f, err := os.OpenFile(logging.LogFilePath(logsDir, "stoke", a.start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	a.logFile = f
	a.zlog = zerolog.New(f).With().Timestamp().Logger()

	opts := logging.Options{Context: a.sc.Attrs}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		of, err := os.OpenFile(logging.LogFilePath(logsDir, "stoke.otel", a.start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening otel log file: %w", err)
		}
		a.otelFile = of
		hostname, _ := os.Hostname()
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			RigID:        hostname,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    of,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initializing OTel: %w", err)
		}
		opts.Provider = a.otel.LoggerProvider()
	}

	var gelfErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGELFWriter(gl.Address, "stoke")
		if err != nil {
			gelfErr = err
		} else {
			a.gelf = w
			opts.Remote = w
		}
	}

	a.slog = logging.NewSlogManager()
	a.slog.Setup(f, config.GetString("logLevel"), opts)
	a.logger = a.slog.Logger()
	slog.SetDefault(a.logger)
	if gelfErr != nil {
		a.logger.Warn("Graylog sink disabled", "error", gelfErr)
	}
	return nil
}

// runRig brings up storage, the clock, the sensors and the controller, then
// runs the controller until it exits or ctx ends.
func (a *app) runRig(ctx context.Context, quit context.CancelFunc) error {
	dryRun := config.GetBool("dryRun")
	capCfg := config.GetCaptureConfig()
	camCfg := config.GetCameraConfig()
	navCfg := config.GetNavConfig()

	backend, err := storage.NewBackend(config.GetStorageConfig(), a.slog.Component("storage"), a.zlog.With().Str("component", "database").Logger())
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	a.backend = backend

	var points telemetry.PointWriter
	if inf := config.GetInfluxConfig(); inf.Enabled {
		a.influx = influx.NewManager(a.zlog.With().Str("component", "influx").Logger(), inf)
		if err := a.influx.Connect(ctx); err != nil {
			a.logger.Warn("InfluxDB unavailable", "error", err)
		} else {
			points = a.influx
		}
	}
	a.sink = telemetry.NewSink(backend, points, a.logger)

	clk := clock.Monotonic()
	synced := false
	if navCfg.Enabled && !dryRun {
		synced = a.syncClock(ctx, navCfg, clk)
	}

	hw, err := openHardware(dryRun, config.GetPinConfig(), camCfg, clk)
	if err != nil {
		return fmt.Errorf("claiming hardware: %w", err)
	}
	a.hw = hw

	a.pulser, err = trigger.NewPulser(hw.trigger, clk, config.GetPinConfig().TriggerActiveLow)
	if err != nil {
		return err
	}

	format, err := camera.ParsePixelFormat(camCfg.Format)
	if err != nil {
		return err
	}
	rigCfg := rig.Config{
		Width:           camCfg.Width,
		Height:          camCfg.Height,
		Format:          format,
		HardwareLatency: trigger.Micros(capCfg.HardwareLatencyUs),
		RingCapacity:    capCfg.RingCapacity,
		WarmupPulses:    capCfg.WarmupPulses,
		WarmupGap:       capCfg.WarmupGap,
		CaptureTimeout:  captureTimeout,
	}
	copy(rigCfg.Devices[:], camCfg.Devices)
	a.rig = rig.New(hw.sources, a.pulser, camera.TriggerMode{Path: camCfg.TriggerModePath}, clk, rigCfg, a.logger)

	writer, err := persist.NewWriter(capCfg.ImageExt, capCfg.JPEGQuality, a.sink, a.logger)
	if err != nil {
		return err
	}
	a.pipeline, err = persist.NewPipeline(writer,
		persist.WithWorkers(capCfg.WriterPool),
		persist.WithQueueSize(capCfg.WriterQueue),
		persist.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.pipeline.Start()

	sessions := session.NewProvider(capCfg.OutputDir)
	if site := config.GetString("siteLocation"); site != "" {
		pos, err := geo.ParsePosition(site)
		if err != nil {
			a.logger.Warn("Ignoring site location", "value", site, "error", err)
		} else {
			sessions.Site = pos
		}
	}

	a.panel = indicator.NewPanel(hw.green, hw.yellow, hw.red)

	profiles, err := loadProfiles()
	if err != nil {
		return err
	}

	deps := mode.Deps{
		Primary:   input.New("primary", hw.primary, clk, capCfg.HoldTime, buttonDebounce),
		Secondary: input.New("secondary", hw.secondary, clk, capCfg.HoldTime, buttonDebounce),
		Rig:       a.rig,
		Writer:    a.pipeline,
		Recorder:  a.sink,
		Sessions:  sessions,
		Panel:     a.panel,
		Context:   a.sc,
		Clock:     clk,
		Logger:    a.logger,
	}
	if a.ref != nil {
		deps.Fix = a.ref
		deps.Nav = telemetry.NewNavRecorder(a.ref, a.sink, navCfg.RecordInterval, a.logger)
	}
	opts := mode.DefaultOptions()
	opts.PollInterval = capCfg.PollInterval
	opts.FixInterval = navCfg.MonitorInterval
	opts.CalibFrames = capCfg.CalibFrames
	opts.CalibInterval = capCfg.CalibInterval

	a.ctrl, err = mode.NewController(deps, profiles, capCfg.ProfileIndex, synced, opts)
	if err != nil {
		return err
	}

	if mon := config.GetMonitorConfig(); mon.Enabled {
		a.monitor = monitor.NewService(monitor.Dependencies{
			Context:  a.sc,
			Buffers:  a.rig,
			Writer:   a.pipeline,
			Recorder: a.sink,
			Path:     mon.Path,
			Interval: mon.Interval,
			Logger:   a.slog.Component("monitor"),
		})
		if err := a.monitor.Start(); err != nil {
			a.logger.Warn("Status monitor not started", "error", err)
			a.monitor = nil
		}
	}

	if dryRun {
		a.logger.Info("Dry run: type p, s or b and enter to toggle the buttons, q to quit")
		go driveFromStdin(ctx, os.Stdin, hw.virtualPrimary, hw.virtualSecondary, quit, a.logger)
	}

	// a configuration error is shown on the panel and retried on Standby entry
	_ = a.ctrl.Start(ctx)

	if err := a.ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// syncClock connects the navigation sensor and aligns the wall clock to it.
// Without a sensor or a fix the rig runs unsynchronized.
func (a *app) syncClock(ctx context.Context, navCfg config.NavConfig, clk clock.Clock) bool {
	ref, err := navsensor.Connect(ctx, navCfg.Port, navCfg.Baud, clk)
	if err != nil {
		a.logger.Warn("Navigation sensor unavailable, running unsynchronized", "port", navCfg.Port, "error", err)
		return false
	}
	a.ref = ref

	opts := clocksync.DefaultOptions()
	opts.Timeout = navCfg.FixTimeout
	opts.PollInterval = navCfg.PollInterval
	opts.SampleInterval = navCfg.SampleInterval
	opts.MaxAdjustments = navCfg.MaxAdjustments
	opts.AdjustWall = navCfg.AdjustClock
	if fix, err := core.ParseFixClass(navCfg.QualifyingFix); err != nil {
		a.logger.Warn("Unknown qualifying fix, using default", "value", navCfg.QualifyingFix, "default", opts.Qualifying.String())
	} else {
		opts.Qualifying = fix
	}

	offset, err := clocksync.New(ref, clock.System(), clk, opts, a.logger).Synchronize(ctx)
	if err != nil {
		a.logger.Warn("Clock synchronization failed, running unsynchronized", "error", err)
		return false
	}
	if err := a.sink.RecordClockOffset(&offset); err != nil {
		a.logger.Error("Failed to record clock offset", "error", err)
	}
	return true
}

func loadProfiles() ([]core.Profile, error) {
	cfgProfiles, err := config.GetProfiles()
	if err != nil {
		return nil, err
	}
	profiles := make([]core.Profile, len(cfgProfiles))
	for i, p := range cfgProfiles {
		profiles[i] = core.Profile(p)
	}
	return profiles, nil
}

// teardown releases everything in dependency order: the sensor session stops
// before it closes, the trigger is de-asserted before its line is released
// and the LEDs go dark before theirs are.
func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
	defer cancel()

	var errs []error
	if a.ctrl != nil {
		errs = append(errs, a.ctrl.Close(ctx))
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close(ctx))
	}
	if a.rig != nil {
		errs = append(errs, a.rig.Release())
	} else if a.pulser != nil {
		errs = append(errs, a.pulser.Release())
	} else if a.hw != nil {
		if r, ok := a.hw.trigger.(releaser); ok {
			errs = append(errs, r.Release())
		}
	}
	if a.panel != nil {
		a.panel.Close()
	}
	if a.hw != nil {
		errs = append(errs, a.hw.release())
	}
	if a.ref != nil {
		errs = append(errs, a.ref.Close())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.influx != nil {
		errs = append(errs, a.influx.Close())
	}
	return errors.Join(errs...)
}

func (a *app) closeLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.slog != nil {
		_ = a.slog.Flush(ctx)
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	if a.gelf != nil {
		_ = a.gelf.Close()
	}
	if a.otelFile != nil {
		_ = a.otelFile.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
