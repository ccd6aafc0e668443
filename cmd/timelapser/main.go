package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/timelapser/internal/config"
	"github.com/cjeanneret/timelapser/internal/debug"
	"github.com/cjeanneret/timelapser/internal/hw/camera"
	"github.com/cjeanneret/timelapser/internal/hw/gpio"
	"github.com/cjeanneret/timelapser/internal/journal"
	"github.com/cjeanneret/timelapser/internal/logic/capture"
	"github.com/cjeanneret/timelapser/internal/logic/illumination"
	"github.com/cjeanneret/timelapser/internal/logic/output"
	"github.com/cjeanneret/timelapser/internal/logic/schedule"
	"github.com/cjeanneret/timelapser/internal/web"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// env holds what run needs from the outside world. Tests replace the clock
// and the camera factory.
type env struct {
	stdout    io.Writer
	stderr    io.Writer
	clock     capture.Clock
	newCamera func(*config.Config) (camera.Device, error)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], env{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		clock:     capture.SystemClock{},
		newCamera: newCameraFromConfig,
	})
	cancel()
	os.Exit(code)
}

// run executes one timelapse and returns the process exit code.
func run(ctx context.Context, args []string, e env) int {
	opts, err := parseFlags(args, e.stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(e.stderr, "timelapser: %v\n", err)
		return exitUsage
	}

	// Load configuration
	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			fmt.Fprintf(e.stderr, "timelapser: load config failed: %v\n", err)
			return exitFailure
		}
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(e.stderr, "timelapser: invalid parameters: %v\n", err)
		return exitUsage
	}

	debug.SetOutput(e.stdout)
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", opts.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	if debug.IsEnabled(debug.LevelVerbose) {
		debug.PrintStruct("Camera config", cfg.Camera)
		debug.PrintStruct("Light config", cfg.Light)
	}
	if !schedule.KnownUnit(cfg.Timelapse.Units) {
		debug.Warn("unknown unit %q, duration taken as seconds", cfg.Timelapse.Units)
	}

	params := cfg.RunParameters()
	if err := params.Validate(); err != nil {
		fmt.Fprintf(e.stderr, "timelapser: invalid parameters: %v\n", err)
		return exitUsage
	}
	location := output.Resolve(params.OutputRoot, params.RunName, e.clock.Now())
	if params.SampleCount > 0 {
		if err := output.CheckFreeSpace(location, cfg.MinFreeBytes()); err != nil {
			fmt.Fprintf(e.stderr, "timelapser: %v\n", err)
			return capture.DirectoryCreationFailed.ExitCode()
		}
	}

	runID := uuid.NewString()
	debug.Value("Run ID", runID)
	debug.Value("Output", location)

	rep, err := execute(ctx, cfg, params, location, runID, e)
	if err != nil {
		fmt.Fprintf(e.stderr, "timelapser: %v\n", err)
	}

	var total uint64
	for _, f := range rep.Frames {
		total += uint64(f.Size)
	}
	debug.Summary("Timelapse Summary")
	debug.Value("Frames", len(rep.Frames))
	debug.Value("Size", humanize.IBytes(total))
	if !rep.Finished.IsZero() {
		debug.Value("Elapsed", rep.Finished.Sub(rep.Started))
	}
	fmt.Fprintf(e.stdout, "%d frame(s), %s, in %s\n", len(rep.Frames), humanize.IBytes(total), location)
	return capture.ExitCode(err)
}

// execute brings up the hardware, runs the timelapse and tears everything
// down again. Errors are *capture.Error so the caller can map them to exit codes.
func execute(ctx context.Context, cfg *config.Config, params schedule.RunParameters, location, runID string, e env) (capture.Report, error) {
	mockGPIO := cfg.Defaults.MockGPIO
	if !mockGPIO && !needsGPIO(cfg) {
		debug.Verbose("No GPIO peripherals configured, using mock GPIO")
		mockGPIO = true
	}
	debug.Value("Mock GPIO", mockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	g, err := gpio.NewDriver(mockGPIO)
	if err != nil {
		return capture.Report{}, deviceError(fmt.Errorf("init GPIO failed: %w", err))
	}
	defer func() {
		if err := g.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
		}
	}()

	debug.Step(2, "Initializing light")
	lamp, err := newLightFromConfig(g, cfg, illumination.WithClock(e.clock))
	if err != nil {
		return capture.Report{}, deviceError(err)
	}
	defer func() {
		if err := lamp.Close(); err != nil {
			debug.Error(fmt.Errorf("closing light failed: %w", err))
		}
	}()
	if cfg.Light.StartupFlash {
		if err := lamp.Flash(ctx, cfg.FlashOn(), cfg.FlashOff()); err != nil {
			if ctx.Err() != nil {
				return capture.Report{}, &capture.Error{Kind: capture.Interrupted, Err: err}
			}
			return capture.Report{}, deviceError(fmt.Errorf("startup flash: %w", err))
		}
	}

	runnerOpts := []capture.RunnerOption{
		capture.WithClock(e.clock),
		capture.WithObserver(capture.LogObserver{}),
	}
	if tt := newTurntableFromConfig(g, cfg); tt != nil {
		debug.Step(3, "Initializing turntable")
		debug.PrintStruct("Turntable config", cfg.Turntable)
		runnerOpts = append(runnerOpts, capture.WithAdvancer(tt))
		defer func() {
			if err := tt.Release(); err != nil {
				debug.Error(fmt.Errorf("releasing turntable failed: %w", err))
			}
		}()
	}

	var history web.History
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			debug.Warn("journal disabled: %v", err)
		} else {
			defer func() {
				if err := j.Close(); err != nil {
					debug.Error(fmt.Errorf("closing journal failed: %w", err))
				}
			}()
			runnerOpts = append(runnerOpts, capture.WithObserver(j.Recorder(runID, params.RunName)))
			history = j
		}
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	// The status server is built before the camera is claimed, so a bad
	// server setup never leaves an open session behind.
	var srv *web.Server
	if port := cfg.Web.Port; port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		tracker := web.NewTracker(runID, broadcaster)
		srv, err = web.NewServer(web.Options{
			Addr:             webAddr(port),
			Broadcaster:      broadcaster,
			Status:           tracker,
			Abort:            web.AbortFunc(abort),
			History:          history,
			LatestFrameRate:  cfg.Web.LatestFrameRate,
			LatestFrameBurst: cfg.Web.LatestFrameBurst,
		})
		if err != nil {
			return capture.Report{}, deviceError(fmt.Errorf("init status server failed: %w", err))
		}
		runnerOpts = append(runnerOpts, capture.WithObserver(tracker))
		debug.SetOutput(io.MultiWriter(e.stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(e.stdout)
		debug.Info("Status server on http://localhost%s", webAddr(port))
	}

	debug.Step(4, "Initializing camera")
	debug.Value("Camera type", cfg.Camera.Type)
	still, err := stillConfig(cfg)
	if err != nil {
		return capture.Report{}, &capture.Error{Kind: capture.InvalidParameters, Err: err}
	}
	dev, err := e.newCamera(cfg)
	if err != nil {
		return capture.Report{}, deviceError(fmt.Errorf("init camera failed: %w", err))
	}
	session, err := capture.Open(ctx, dev, still,
		capture.WithSessionClock(e.clock),
		capture.WithIndexWidth(output.IndexWidth(params.SampleCount)))
	if err != nil {
		return capture.Report{}, err
	}
	runner := capture.NewRunner(session, lamp, runnerOpts...)

	if srv == nil {
		return runner.Run(runCtx, params, location)
	}

	srvCtx, stopServer := context.WithCancel(context.Background())
	var (
		group  errgroup.Group
		rep    capture.Report
		runErr error
	)
	group.Go(func() error {
		defer stopServer()
		rep, runErr = runner.Run(runCtx, params, location)
		return nil
	})
	group.Go(func() error {
		if err := srv.Run(srvCtx); err != nil {
			debug.Error(fmt.Errorf("web server: %w", err))
		}
		return nil
	})
	_ = group.Wait()
	return rep, runErr
}

func deviceError(err error) error {
	return &capture.Error{Kind: capture.DeviceUnavailable, Err: err}
}
