package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Respondr/internal/backend"
	"Respondr/internal/chatbot"
	"Respondr/internal/config"
	"Respondr/internal/loop"
	"Respondr/internal/store"
	"Respondr/internal/telemetry"
	"Respondr/internal/ui"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		backendKind string
		model       string
		driver      string
		dsn         string
		logDir      string
		debug       bool
		noTelemetry bool
		noGreeting  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (default ~/.respondr/config.toml)")
	flag.StringVar(&backendKind, "backend", "", "Backend transport (http|sdk)")
	flag.StringVar(&model, "model", "", "Gemini model name")
	flag.StringVar(&driver, "storage-driver", "", "Storage driver (sqlite3|mysql|postgres|redis|memory)")
	flag.StringVar(&dsn, "storage-dsn", "", "Storage DSN or URL")
	flag.StringVar(&logDir, "log-dir", "", "Directory for log files")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&noTelemetry, "no-telemetry", false, "Disable trace and metric export")
	flag.BoolVar(&noGreeting, "no-greeting", false, "Do not greet new chats")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = backendKind
		case "model":
			cfg.Model = model
		case "storage-driver":
			cfg.Storage.Driver = driver
		case "storage-dsn":
			cfg.Storage.DSN = dsn
		case "log-dir":
			cfg.LogDir = logDir
		case "debug":
			cfg.Debug = debug
		case "no-telemetry":
			cfg.Telemetry = !noTelemetry
		case "no-greeting":
			cfg.Greeting = !noGreeting
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	var (
		tracer trace.Tracer
		meter  metric.Meter
	)
	if cfg.Telemetry {
		var cleanup func()
		tracer, meter, cleanup, err = telemetry.InitTelemetry(ctx, cfg.LogDir, version)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer cleanup()
	} else {
		tracer, meter = telemetry.Nop()
	}

	kv, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Error("storage unavailable, keeping state in memory", "driver", cfg.Storage.Driver, "error", err)
		kv = store.NewMemory()
	}
	persist := store.NewPersistence(kv, logger)
	defer persist.Close()

	gen := newGenerator(cfg, logger, tracer, meter)

	l := loop.New(256)
	var program *tea.Program
	bridge := ui.NewBridge(l.Post, func(msg tea.Msg) { program.Send(msg) })

	bot := chatbot.New(chatbot.Options{
		Runtime:        l,
		Persistence:    persist,
		Generator:      gen,
		Sink:           bridge.Sink(),
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meter,
		Timings:        cfg.EmergencyTimings(),
		ReplyDelay:     cfg.ReplyDelay(),
		GreetingDelay:  cfg.GreetingDelay(),
		Greeting:       cfg.Greeting,
		RequestTimeout: cfg.Timeout(),
		EnvCredential:  cfg.Credential,
	})
	bridge.Attach(bot)

	// read before the loop starts; afterwards only the loop touches the controller
	theme, masked := bot.State().Theme, bot.MaskedCredential()
	program = tea.NewProgram(ui.New(bridge, theme, masked), tea.WithAltScreen())

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(loopCtx)
	}()
	l.Post(bot.Start)

	logger.Info("respondr started",
		"version", version,
		"backend", cfg.Backend,
		"model", cfg.Model,
		"storage", cfg.Storage.Driver)

	_, runErr := program.Run()

	stop()
	<-done
	logger.Info("respondr stopped")

	if runErr != nil {
		return fmt.Errorf("terminal UI failed: %w", runErr)
	}
	return nil
}

func newGenerator(cfg config.Config, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) backend.Generator {
	opts := backend.Options{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout(),
		Tracer:  tracer,
		Meter:   meter,
		Logger:  logger,
	}
	if cfg.Backend == config.BackendSDK {
		return backend.NewSDK(opts)
	}
	return backend.NewClient(opts)
}
