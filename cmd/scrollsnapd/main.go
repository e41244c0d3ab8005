package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"scrollsnap/input"
	"scrollsnap/snap"
)

const version = "0.1.0"

func printVersion() {
	fmt.Printf("scrollsnapd v%s\n", version)
	fmt.Println("Scroll-axis snapping daemon for Linux input devices")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  scrollsnapd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads scroll events from evdev devices, snaps two-axis scrolling onto")
	fmt.Println("  the dominant axis and re-emits the result through a uinput device.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  Every config key can be overridden as SCROLLSNAP_<SECTION>_<KEY>, e.g.")
	fmt.Println("  SCROLLSNAP_SNAP_REQUIRE_N_SAMPLES=4 or SCROLLSNAP_INPUT_DEVICES=/dev/input/event3")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  scrollsnapd -config ~/.config/scrollsnap/config.yaml")
	fmt.Println("  scrollsnapd -devices /dev/input/by-id/usb-mouse-event-mouse -lock-duration-ms 300")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input devices and write access to /dev/uinput")
	fmt.Println("  - Flags override environment variables, which override the config file")
	fmt.Println()
}

// flagIfSet returns v when the named flag was given on the command line.
func flagIfSet[T any](set map[string]bool, name string, v *T) *T {
	if set[name] {
		return v
	}
	return nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (.yaml/.yml, or .toml)")
		showVersion = flag.Bool("version", false, "Print version and exit")

		devices    = flag.String("devices", "", "Comma-separated input devices (overrides input.devices)")
		grab       = flag.Bool("grab", true, "Grab input devices exclusively")
		outputName = flag.String("output-name", "", "Name of the virtual output device")

		requireN   = flag.Int("require-n-samples", 0, "Samples to accumulate before snapping (1-16)")
		immediate  = flag.Uint("immediate-snap-threshold", 0, "Windowed sum that forces an early snap")
		lockMS     = flag.Uint("lock-duration-ms", 0, "Time lock after a snap decision (0 disables)")
		lockEvents = flag.Uint("lock-for-next-n-events", 0, "Event-count lock after a snap decision (0 disables)")
		idleMS     = flag.Uint("idle-reset-timeout-ms", 0, "Discard state after this much inactivity (0 disables)")

		ipcSocket = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpPort  = flag.Int("http-port", 0, "HTTP listener port for /ws/state and /api/status (0 disables)")
		logLevel  = flag.String("log-level", "", "Log level: error, warn, info, debug")
		watch     = flag.Bool("watch", false, "Reload the snap section when the config file changes")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	overrides := FlagOverrides{
		Devices:                flagIfSet(set, "devices", devices),
		Grab:                   flagIfSet(set, "grab", grab),
		OutputName:             flagIfSet(set, "output-name", outputName),
		RequireNSamples:        flagIfSet(set, "require-n-samples", requireN),
		ImmediateSnapThreshold: flagIfSet(set, "immediate-snap-threshold", immediate),
		LockDurationMS:         flagIfSet(set, "lock-duration-ms", lockMS),
		LockForNextNEvents:     flagIfSet(set, "lock-for-next-n-events", lockEvents),
		IdleResetTimeoutMS:     flagIfSet(set, "idle-reset-timeout-ms", idleMS),
		IPCSocketPath:          flagIfSet(set, "ipc-socket", ipcSocket),
		HTTPPort:               flagIfSet(set, "http-port", httpPort),
		LogLevel:               flagIfSet(set, "log-level", logLevel),
		Watch:                  flagIfSet(set, "watch", watch),
	}

	cfg, err := LoadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Already validated by LoadConfig.
	level, _ := parseLogLevel(cfg.Logging.Level)
	logger, levelVar := setupLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	load := func() (Config, error) { return LoadConfig(*configPath, overrides) }
	if err := run(ctx, cfg, *configPath, load, levelVar, logger); err != nil {
		logger.Error("scrollsnapd stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("shut down")
}

// run opens the devices and runs the daemon with its IPC, HTTP and reload
// companions until ctx is canceled or one of them fails.
func run(ctx context.Context, cfg Config, configPath string, load configLoader, levelVar *slog.LevelVar, logger *slog.Logger) error {
	files, closeInputs, err := openInputs(cfg.Input, logger)
	if err != nil {
		return err
	}
	defer closeInputs()

	out, err := openOutput(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	var broadcasts chan stateBroadcast
	if cfg.HTTP.Port > 0 {
		broadcasts = make(chan stateBroadcast, 64)
	}
	requests := make(chan daemonRequest, 16)

	d, err := newDaemon(cfg, out, snap.NewMonotonicClock(), broadcasts, logger)
	if err != nil {
		return err
	}

	events := make(chan input.DeviceEvent, 256)
	readErr := make(chan error, 1)
	startReaders(files, events, readErr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// When the daemon loop stops, everything stops.
		defer cancel()
		return d.run(ctx, events, readErr, requests)
	})

	g.Go(func() error {
		return runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), requests, logger)
	})

	if cfg.HTTP.Port > 0 {
		ws := NewStateServer(logger, requests, HubConfig{})
		g.Go(func() error {
			ws.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(ctx, cfg.HTTP.Port, newHTTPMux(ws, requests, logger), logger)
		})
	}

	if cfg.Reload.Watch {
		if configPath == "" {
			logger.Warn("reload.watch is set but no config file was given")
		} else {
			g.Go(func() error {
				return watchConfig(ctx, configPath, load, requests, levelVar, logger)
			})
		}
	}

	logger.Info("scrollsnapd running",
		"version", version,
		"devices", cfg.Input.Devices,
		"output", cfg.Output.Name,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"require_n_samples", cfg.Snap.RequireNSamples,
		"lock_duration_ms", cfg.Snap.LockDurationMS,
		"lock_for_next_n_events", cfg.Snap.LockForNextNEvents)

	return g.Wait()
}
