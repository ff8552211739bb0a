package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("knobd v%s\n", version)
	fmt.Println("Rotary encoder daemon: quadrature decoding, range policy and change notification")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  knobd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Decodes one or more rotary encoders (GPIO sysfs or a serial bridge)")
	fmt.Println("  into bounded integer values. Values are served over a Unix socket,")
	fmt.Println("  streamed to WebSocket clients and exported as Prometheus metrics.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML configuration file (env KNOBD_CONFIG)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\", env KNOBD_LOG_LEVEL)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q, env KNOBD_IPC_SOCKET)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -http-addr string")
	fmt.Printf("        HTTP listen address for websocket and metrics, empty disables (default %q, env KNOBD_HTTP_ADDR)\n", defaultHTTPAddr)
	fmt.Println()
	fmt.Println("  -gpio-root string")
	fmt.Printf("        sysfs GPIO class directory (default %q, env KNOBD_GPIO_ROOT)\n", defaultGPIORoot)
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with the built-in two-knob layout")
	fmt.Println("  knobd")
	fmt.Println()
	fmt.Println("  # Use a config file and verbose logging")
	fmt.Println("  knobd -config /etc/knobd.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Precedence: defaults < config file < environment < flags")
	fmt.Println("  - GPIO sources need write access to the sysfs export files")
	fmt.Println()
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		logLevel   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		ipcSocket  = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		httpAddr   = flag.String("http-addr", defaultHTTPAddr, "HTTP listen address (empty disables)")
		gpioRoot   = flag.String("gpio-root", defaultGPIORoot, "sysfs GPIO class directory")
		showVer    = flag.Bool("version", false, "Print version and exit")
		showHelp   = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVer {
		printVersion()
		return
	}

	// Only flags given on the command line override file and environment.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			overrides.LogLevel = logLevel
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "http-addr":
			overrides.HTTPAddr = httpAddr
		case "gpio-root":
			overrides.GPIORoot = gpioRoot
		}
	})

	cfg, err := loadConfig(*configPath, nil, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level) // checked by Validate
	logger := setupLogger(os.Stderr, level)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), cfg, sigCh, logger); err != nil {
		logger.Error("knobd exited with error", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags, then
// validates. environ nil means the process environment. A non-empty
// configPath wins over KNOBD_CONFIG.
func loadConfig(configPath string, environ map[string]string, flags FlagOverrides) (Config, error) {
	envOv, err := ParseEnvOverrides(environ)
	if err != nil {
		return Config{}, err
	}
	if configPath == "" {
		configPath = envOv.ConfigPath
	}

	cfg := DefaultConfig()
	if configPath != "" {
		cfg, err = LoadConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}
	}

	envOv.Apply(&cfg)
	flags.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run starts every component and blocks until a signal arrives on sigCh, ctx
// is canceled, or a component fails. Knobs are closed before it returns.
func run(ctx context.Context, cfg Config, sigCh <-chan os.Signal, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := NewMetrics()
	events := make(chan Event, eventQueueSize)

	var broadcasts chan StateBroadcast
	var ws *Server
	if cfg.HTTP.Addr != "" {
		broadcasts = make(chan StateBroadcast, broadcastQueueSize)
		ws = NewServer(logger, events, ServerConfig{
			Hub: HubConfig{OnClients: func(n int) { metrics.WSClients.Set(float64(n)) }},
		})
	}

	reg, err := buildRegistry(cfg, events, metrics, logger)
	if err != nil {
		return err
	}

	logger.Info("knobd starting", "version", version, "knobs", len(reg.All()),
		"ipc", cfg.IPC.SocketPath, "http", cfg.HTTP.Addr)
	for _, k := range reg.All() {
		c := k.Tracker.Config()
		logger.Debug("knob configured", "knob", k.Name, "source", k.Source, "value", k.Tracker.Value(),
			"min", c.Min, "max", c.Max, "step", c.Step, "range", c.Range.String(),
			"reverse", c.Reverse, "half_step", c.HalfStep, "invert", c.Invert)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		runDaemon(gCtx, events, reg, metrics, broadcasts, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gCtx, cfg.IPC.SocketPath, events, metrics, logger)
	})

	if ws != nil {
		g.Go(func() error {
			ws.Hub().Run(gCtx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gCtx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gCtx, cfg.HTTP.Addr, newHTTPMux(cfg.HTTP, ws, metrics), logger)
		})
	}

	// Stop delivery as soon as shutdown begins.
	g.Go(func() error {
		<-gCtx.Done()
		if err := reg.Close(); err != nil {
			return fmt.Errorf("close knobs: %w", err)
		}
		logger.Info("knobs closed")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
