package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/NudgeLoop/NudgeLoop/internal/api"
	"github.com/NudgeLoop/NudgeLoop/internal/engine"
	"github.com/NudgeLoop/NudgeLoop/internal/lockfile"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/recovery"
	"github.com/NudgeLoop/NudgeLoop/internal/safety"
	"github.com/NudgeLoop/NudgeLoop/internal/scheduler"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/NudgeLoop/NudgeLoop/internal/trigger"
	"github.com/NudgeLoop/NudgeLoop/internal/twiliosms"
	"github.com/NudgeLoop/NudgeLoop/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NudgeLoop state data
	DefaultStateDir = "/var/lib/nudgeloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "nudgeloop.db"
	// DefaultChannel is the delivery channel used when none is configured
	DefaultChannel = "whatsapp"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping NudgeLoop with configured modules")
	if err := run(flags); err != nil {
		slog.Error("NudgeLoop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("NudgeLoop exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	RedisURL      string
	OpenAIKey     string
	APIAddr       string
	Channel       string
	WhatsAppDSN   string
	TriggersFile  string
	ProactiveCron string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	redisURL      *string
	openaiKey     *string
	apiAddr       *string
	channel       *string
	whatsAppDSN   *string
	triggersFile  *string
	proactiveCron *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("NUDGELOOP_STATE_DIR"),
		RedisURL:      os.Getenv("REDIS_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Channel:       os.Getenv("NUDGE_CHANNEL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		TriggersFile:  os.Getenv("TRIGGERS_FILE"),
		ProactiveCron: os.Getenv("PROACTIVE_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No NUDGELOOP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"NUDGELOOP_STATE_DIR", config.StateDir,
		"REDIS_URL_SET", config.RedisURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"NUDGE_CHANNEL", config.Channel,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"TRIGGERS_FILE", config.TriggersFile,
		"PROACTIVE_CRON", config.ProactiveCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for NudgeLoop data (overrides $NUDGELOOP_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the intervention store (overrides $DATABASE_URL)"),
		redisURL:      flag.String("redis-url", config.RedisURL, "Redis URL for hot user state (overrides $REDIS_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for safety screening (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:       flag.String("channel", config.Channel, "delivery channel: whatsapp, twilio, or mock (overrides $NUDGE_CHANNEL)"),
		whatsAppDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		triggersFile:  flag.String("triggers-file", config.TriggersFile, "trigger definitions JSON file (overrides $TRIGGERS_FILE)"),
		proactiveCron: flag.String("proactive-cron", config.ProactiveCron, "cron expression for the proactive sweep (overrides $PROACTIVE_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel,
		"triggersFile", *flags.triggersFile)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore opens the durable intervention store for the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildUserState returns the hot user-state backend: Redis when a URL is
// configured, otherwise nil so the engine reuses the durable store.
func buildUserState(flags Flags) (store.UserStateRepo, error) {
	if *flags.redisURL == "" {
		return nil, nil
	}
	redisOpts, err := redis.ParseURL(*flags.redisURL)
	if err != nil {
		return nil, err
	}
	slog.Debug("Configuring Redis user state store")
	return store.NewRedisUserStateStore(redis.NewClient(redisOpts), "nudgeloop"), nil
}

// buildLibrary loads trigger definitions from the configured file or the
// embedded defaults.
func buildLibrary(flags Flags) (*trigger.Library, error) {
	if *flags.triggersFile != "" {
		return trigger.LoadLibraryFile(*flags.triggersFile)
	}
	return trigger.DefaultLibrary(), nil
}

// buildScreener returns the OpenAI safety screener when a key is set.
func buildScreener(flags Flags) (safety.Screener, error) {
	if *flags.openaiKey == "" {
		slog.Info("No OpenAI API key configured, safety screening disabled")
		return safety.AllowAll{}, nil
	}
	return safety.NewOpenAIScreener(safety.WithAPIKey(*flags.openaiKey))
}

// buildMessagingService constructs the configured delivery channel.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.channel {
	case "twilio":
		client, err := twiliosms.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case "mock":
		slog.Warn("Using mock delivery channel, nudges will not leave the process")
		return messaging.NewMockService(), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if *flags.whatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsAppDSN))
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := buildUserState(flags)
	if err != nil {
		return err
	}

	lib, err := buildLibrary(flags)
	if err != nil {
		return err
	}

	screener, err := buildScreener(flags)
	if err != nil {
		return err
	}

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(st, state, lib, msgService, screener,
		engine.NewRealClock(), engine.NewDefaultRNG(), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	// Re-arm timers lost in the previous shutdown before serving traffic.
	if err := recovery.New(st).Run(ctx, eng); err != nil {
		return err
	}

	server := buildAPIServer(eng, msgService, flags)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	proactive := engine.NewProactiveLoop(eng, server.Snapshots(), sched)
	if err := proactive.Run(ctx, *flags.proactiveCron); err != nil {
		return err
	}

	return server.Run(ctx)
}

// buildAPIServer constructs the HTTP server with configured options.
func buildAPIServer(eng *engine.Engine, msgService messaging.Service, flags Flags) *api.Server {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return api.NewServer(eng, msgService, apiOpts...)
}
