package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/NiroGuard/SyncGuard/internal/api"
	"github.com/NiroGuard/SyncGuard/internal/connectivity"
	"github.com/NiroGuard/SyncGuard/internal/delivery"
	"github.com/NiroGuard/SyncGuard/internal/fetchcache"
	"github.com/NiroGuard/SyncGuard/internal/lockfile"
	"github.com/NiroGuard/SyncGuard/internal/manager"
	"github.com/NiroGuard/SyncGuard/internal/store"
	"github.com/NiroGuard/SyncGuard/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SyncGuard state data
	DefaultStateDir = "/var/lib/syncguard"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "syncguard.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// A file-based store must not be shared between agents
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	fetchOpts := buildFetchOptions(flags)
	monitorOpts := buildMonitorOptions(flags)
	runnerOpts := buildRunnerOptions(flags)
	managerOpts := buildManagerOptions(flags)
	apiOpts := buildAPIOptions(flags)
	notifyURLs := splitNotifyURLs(*flags.notifyURLs)

	// Start the service
	slog.Info("Bootstrapping SyncGuard with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "fetch", len(fetchOpts), "monitor", len(monitorOpts), "runner", len(runnerOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "server_url", *flags.serverURL)
	if err := api.Run(storeOpts, fetchOpts, monitorOpts, runnerOpts, managerOpts, notifyURLs, apiOpts); err != nil {
		slog.Error("SyncGuard failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SyncGuard exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	ServerURL   string
	APIAddr     string
	AppVersion  string
	NotifyURLs  string
	AlertsCron  string
	SyncCron    string
	ProbeURL    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	serverURL  *string
	apiAddr    *string
	appVersion *string
	notifyURLs *string
	alertsCron *string
	syncCron   *string
	probeURL   *string
}

// initializeLogger sets up structured logging; SYNCGUARD_DEBUG=false drops to
// info level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SYNCGUARD_DEBUG", true) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("SYNCGUARD_STATE_DIR"),
		ServerURL:   os.Getenv("SERVER_BASE_URL"),
		APIAddr:     os.Getenv("API_ADDR"),
		AppVersion:  os.Getenv("APP_VERSION"),
		NotifyURLs:  os.Getenv("NOTIFY_URLS"),
		AlertsCron:  os.Getenv("ALERTS_SCHEDULE"),
		SyncCron:    os.Getenv("SYNC_SCHEDULE"),
		ProbeURL:    os.Getenv("CONNECTIVITY_PROBE_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SYNCGUARD_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SYNCGUARD_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The server we sync to doubles as the connectivity probe target
	if config.ProbeURL == "" && config.ServerURL != "" {
		config.ProbeURL = config.ServerURL
		slog.Debug("No CONNECTIVITY_PROBE_URL set, probing the sync server", "probe_url", config.ProbeURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SYNCGUARD_STATE_DIR", config.StateDir,
		"SERVER_BASE_URL", config.ServerURL,
		"API_ADDR", config.APIAddr,
		"APP_VERSION", config.AppVersion,
		"NOTIFY_URLS_SET", config.NotifyURLs != "",
		"ALERTS_SCHEDULE", config.AlertsCron,
		"CONNECTIVITY_PROBE_URL", config.ProbeURL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for SyncGuard data (overrides $SYNCGUARD_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the queue and cache store (overrides $DATABASE_URL)"),
		serverURL:  flag.String("server-url", config.ServerURL, "base URL of the sync server (overrides $SERVER_BASE_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		appVersion: flag.String("app-version", config.AppVersion, "application version naming the cache generations (overrides $APP_VERSION)"),
		notifyURLs: flag.String("notify-urls", config.NotifyURLs, "comma-separated shoutrrr service URLs for notifications (overrides $NOTIFY_URLS)"),
		alertsCron: flag.String("alerts-cron", config.AlertsCron, "cron schedule for the critical-alerts refresh (overrides $ALERTS_SCHEDULE)"),
		syncCron:   flag.String("sync-cron", config.SyncCron, "cron schedule for periodic queue drains (overrides $SYNC_SCHEDULE)"),
		probeURL:   flag.String("probe-url", config.ProbeURL, "URL probed to detect connectivity (overrides $CONNECTIVITY_PROBE_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"serverURL", *flags.serverURL,
		"apiAddr", *flags.apiAddr,
		"appVersion", *flags.appVersion,
		"notifyURLs_set", *flags.notifyURLs != "",
		"alertsCron", *flags.alertsCron,
		"syncCron", *flags.syncCron,
		"probeURL", *flags.probeURL)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildFetchOptions constructs interception transport configuration options
func buildFetchOptions(flags Flags) []fetchcache.Option {
	var fetchOpts []fetchcache.Option
	if *flags.appVersion != "" {
		fetchOpts = append(fetchOpts, fetchcache.WithVersion(*flags.appVersion))
	}
	return fetchOpts
}

// buildMonitorOptions constructs connectivity monitor configuration options
func buildMonitorOptions(flags Flags) []connectivity.Option {
	var monitorOpts []connectivity.Option
	if *flags.probeURL != "" {
		monitorOpts = append(monitorOpts, connectivity.WithProbeURL(*flags.probeURL))
	}
	if interval := util.ParseDurationEnv("CONNECTIVITY_PROBE_INTERVAL", connectivity.DefaultProbeInterval); interval != connectivity.DefaultProbeInterval {
		monitorOpts = append(monitorOpts, connectivity.WithInterval(interval))
	}
	return monitorOpts
}

// buildRunnerOptions constructs delivery runner configuration options
func buildRunnerOptions(flags Flags) []delivery.Option {
	var runnerOpts []delivery.Option
	if *flags.serverURL != "" {
		runnerOpts = append(runnerOpts, delivery.WithBaseURL(*flags.serverURL))
	}
	if *flags.alertsCron != "" {
		runnerOpts = append(runnerOpts, delivery.WithAlertsSchedule(*flags.alertsCron))
	}
	if *flags.syncCron != "" {
		runnerOpts = append(runnerOpts, delivery.WithSyncSchedule(*flags.syncCron))
	}
	return runnerOpts
}

// buildManagerOptions constructs sync manager configuration options
func buildManagerOptions(flags Flags) []manager.Option {
	var managerOpts []manager.Option
	if *flags.serverURL != "" {
		managerOpts = append(managerOpts, manager.WithBaseURL(*flags.serverURL))
	}
	return managerOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.serverURL != "" {
		apiOpts = append(apiOpts, api.WithServerURL(*flags.serverURL))
	}
	return apiOpts
}

// splitNotifyURLs parses the comma-separated notification service URL list
func splitNotifyURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
