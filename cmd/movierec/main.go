package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/movierec/movierec/internal/animation"
	"github.com/movierec/movierec/internal/api"
	"github.com/movierec/movierec/internal/appstate"
	"github.com/movierec/movierec/internal/lockfile"
	"github.com/movierec/movierec/internal/maintenance"
	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/preferences"
	"github.com/movierec/movierec/internal/recovery"
	"github.com/movierec/movierec/internal/remote"
	"github.com/movierec/movierec/internal/store"
	"github.com/movierec/movierec/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for movierec state data
	DefaultStateDir = "/var/lib/movierec"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "movierec.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("movierec failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("movierec exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	RemoteURL     string
	RemoteToken   string
	APIAddr       string
	SweepCron     string
	RemoteTimeout time.Duration
	OpTimeout     time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	remoteURL *string
	apiAddr   *string
	sweepCron *string

	remoteToken   string
	remoteTimeout time.Duration
	opTimeout     time.Duration
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
		StateDir:      os.Getenv("MOVIEREC_STATE_DIR"),
		RemoteURL:     os.Getenv("MOVIEREC_REMOTE_URL"),
		RemoteToken:   os.Getenv("MOVIEREC_REMOTE_TOKEN"),
		APIAddr:       os.Getenv("API_ADDR"),
		SweepCron:     os.Getenv("REPAIR_SWEEP_SCHEDULE"),
		RemoteTimeout: util.ParseDurationEnv("MOVIEREC_REMOTE_TIMEOUT", preferences.DefaultRemoteTimeout),
		OpTimeout:     util.ParseDurationEnv("MOVIEREC_OPERATION_TIMEOUT", operation.DefaultTimeout),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MOVIEREC_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MOVIEREC_STATE_DIR", config.StateDir,
		"MOVIEREC_REMOTE_URL_SET", config.RemoteURL != "",
		"MOVIEREC_REMOTE_TOKEN_SET", config.RemoteToken != "",
		"API_ADDR", config.APIAddr,
		"REPAIR_SWEEP_SCHEDULE", config.SweepCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for movierec data (overrides $MOVIEREC_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the local store (overrides $DATABASE_URL)"),
		remoteURL: flag.String("remote-url", config.RemoteURL, "remote preference endpoint base URL (overrides $MOVIEREC_REMOTE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron schedule for the repair sweep (overrides $REPAIR_SWEEP_SCHEDULE)"),

		remoteToken:   config.RemoteToken,
		remoteTimeout: config.RemoteTimeout,
		opTimeout:     config.OpTimeout,
	}

	flag.Parse()

	// A state-dir override moves the default SQLite path along with it.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"remoteURL_set", *flags.remoteURL != "",
		"apiAddr", *flags.apiAddr,
		"sweepCron", *flags.sweepCron)

	return flags
}

// openStore selects and opens the local store backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func run(flags Flags) error {
	// Single-instance lock before anything touches the local store.
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	local, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer local.Close()

	var remoteOpts []remote.Option
	if *flags.remoteURL != "" {
		remoteOpts = append(remoteOpts, remote.WithBaseURL(*flags.remoteURL))
	}
	if flags.remoteTimeout > 0 {
		remoteOpts = append(remoteOpts, remote.WithTimeout(flags.remoteTimeout))
	}
	if flags.remoteToken != "" {
		token := flags.remoteToken
		remoteOpts = append(remoteOpts, remote.WithTokenSource(func() string { return token }))
	}
	remoteClient, err := remote.NewClient(remoteOpts...)
	if err != nil {
		return err
	}

	registry := operation.NewRegistry(operation.WithDefaultTimeout(flags.opTimeout))
	syncer := preferences.NewSynchronizer(remoteClient, local,
		preferences.WithRemoteTimeout(flags.remoteTimeout))
	state := appstate.NewStore(registry, syncer)

	motion := animation.NewStaticMotionSignal(util.ParseBoolEnv("MOVIEREC_REDUCED_MOTION", false))
	frames := animation.NewSimpleFrameSampler()
	animations := animation.NewScheduler(
		animation.WithRegistry(registry),
		animation.WithMotionSignal(motion),
		animation.WithFrameSampler(frames),
		animation.WithConcurrency(util.ParseIntEnv("MOVIEREC_ANIMATION_CEILING", animation.DefaultConcurrencyCeiling)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go animations.Run(ctx)

	// Startup self-healing: repair every locally stored record before the
	// first load can observe it.
	manager := recovery.NewManager()
	manager.Register(recovery.RecoverableFunc(func(ctx context.Context) error {
		_, err := syncer.RepairSweep(ctx)
		return err
	}))
	if err := manager.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery reported errors", "error", err)
	}

	sched := maintenance.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleRepairSweep(*flags.sweepCron, syncer); err != nil {
		return err
	}
	if err := sched.ScheduleStateReport("", registry); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(registry, state, syncer, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	slog.Info("movierec engine running", "state_dir", *flags.stateDir)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
