// Package internal provides the App struct that wires all components of
// vaultq together and initializes the CLI layer.
package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/internal/cli"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/internal/integration"
	"github.com/valter-silva-au/vaultq/internal/observability"
	"github.com/valter-silva-au/vaultq/internal/storage"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Files kept in the vault Logs folder.
const (
	RegistryFileName = "processed.json"
	LockFileName     = "vaultq.lock"
	EventLogFileName = "events.jsonl"
)

// App holds all service dependencies of vaultq.
type App struct {
	BasePath  string
	VaultPath string
	Config    *models.Config

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Logging
	Log         zerolog.Logger
	ActivityLog *observability.RotatingFile

	// Storage layer
	Store    storage.RecordStore
	Registry storage.Registry

	// Core services
	Classifier   core.Classifier
	TmplMgr      core.TemplateManager
	Ingestor     core.Ingestor
	Gate         core.ApprovalGate
	Executor     core.Executor
	Scheduler    core.Scheduler
	Lock         core.ProcessLock
	Orchestrator core.Orchestrator
	Dashboard    *core.DashboardUpdater
	VaultInit    core.VaultInitializer

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components of vaultq. basePath is the
// directory holding .vaultq.yaml and the vault folder.
func NewApp(basePath string) (*App, error) {
	return newApp(basePath, os.Stderr)
}

func newApp(basePath string, console io.Writer) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, err
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", app.ConfigMgr.ConfigPath(), err)
	}
	app.Config = cfg
	app.VaultPath = filepath.Join(basePath, cfg.VaultRoot)
	logsDir := filepath.Join(app.VaultPath, cfg.Folders.Logs)

	// --- Logging ---
	logger, activity, err := observability.NewActivityLogger(observability.ActivityLogOptions{
		Path:     filepath.Join(logsDir, cfg.Logs.File),
		Level:    cfg.Logs.Level,
		MaxBytes: cfg.Logs.MaxBytes,
		Console:  console,
	})
	if err != nil {
		// Keep the console only; the vault may not be writable yet.
		logger = zerolog.New(zerolog.ConsoleWriter{Out: console}).With().Timestamp().Logger()
		logger.Warn().Err(err).Msg("activity log unavailable")
	}
	app.Log, app.ActivityLog = logger, activity

	// --- Storage layer ---
	app.Store = storage.NewRecordStore(app.VaultPath, cfg.Folders)
	if err := app.Store.EnsureFolders(); err != nil {
		return nil, fmt.Errorf("preparing vault %s: %w", app.VaultPath, err)
	}
	app.Registry, err = storage.NewRegistry(filepath.Join(logsDir, RegistryFileName))
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(logsDir, EventLogFileName))
	if err != nil {
		// Non-fatal: metrics and alerts are disabled without the event log.
		logger.Warn().Err(err).Msg("event log unavailable, metrics and alerts disabled")
		app.EventLog = nil
	}
	var events core.EventLogger = observability.EventRecorder{Log: app.EventLog}
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		if cfg.Alerts.ApprovalPendingHours > 0 {
			thresholds.ApprovalPendingHours = cfg.Alerts.ApprovalPendingHours
		}
		if cfg.Alerts.FailureSpike > 0 {
			thresholds.FailureSpike = cfg.Alerts.FailureSpike
		}
		if cfg.Alerts.MaxBacklogSize > 0 {
			thresholds.MaxBacklogSize = cfg.Alerts.MaxBacklogSize
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds, app.backlogSize)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Notifications.Enabled && cfg.Notifications.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	}

	// --- Core services ---
	app.Classifier = core.NewKeywordClassifier()
	app.TmplMgr = core.NewTemplateManager(basePath)
	app.Ingestor = core.NewIngestor(app.Store, app.Registry, app.Classifier, app.TmplMgr, core.IngestorConfig{
		Pipeline:     cfg.Ingest.Pipeline,
		Include:      cfg.Ingest.Include,
		SourcePrefix: filepath.ToSlash(filepath.Join(cfg.VaultRoot, cfg.Folders.Inbox)),
	}, observability.Component(logger, "ingestor"), events)

	app.Gate = core.NewApprovalGate(app.Store, core.ApprovalGateConfig{
		PollInterval: cfg.Approval.PollInterval,
		Timeout:      cfg.Approval.Timeout,
	}, observability.Component(logger, "approval"), events)

	dashboardPath := filepath.Join(app.VaultPath, cfg.DashboardFile)
	app.Dashboard = core.NewDashboardUpdater(dashboardPath)
	app.Executor = core.NewExecutor(app.Store, integration.Capabilities(cfg, observability.Component(logger, "integration")), core.ExecutorConfig{
		MaxRetries: cfg.Executor.MaxRetries,
		RetryBase:  cfg.Executor.RetryBase,
	}, observability.Component(logger, "executor"), events, app.Dashboard)

	app.Scheduler = core.NewScheduler(app.Store, app.Gate, app.Executor, core.SchedulerConfig{
		ApprovalMode:    cfg.Approval.Mode,
		ApprovalTimeout: cfg.Approval.Timeout,
	}, observability.Component(logger, "scheduler"), events)

	app.Lock = core.NewProcessLock(filepath.Join(logsDir, LockFileName), observability.Component(logger, "lock"))

	var rotator core.LogRotator
	if activity != nil {
		rotator = activity
	}
	app.Orchestrator = core.NewOrchestrator(app.Store, app.Registry, app.Ingestor, app.Scheduler, app.Lock, rotator, core.OrchestratorConfig{
		ScheduleInterval: cfg.Scheduler.Interval,
		WatchInterval:    cfg.Watcher.Interval,
	}, observability.Component(logger, "orchestrator"), events)

	app.VaultInit = core.NewVaultInitializer()
	if err := core.EnsureDashboard(dashboardPath); err != nil {
		logger.Warn().Err(err).Str("path", dashboardPath).Msg("creating dashboard")
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.VaultInit = app.VaultInit
	cli.Store = app.Store
	cli.Registry = app.Registry
	cli.Orch = app.Orchestrator
	cli.Ingest = app.Ingestor
	cli.Sched = app.Scheduler
	cli.Lock = app.Lock
	cli.Gate = app.Gate
	cli.ActivityLog = app.ActivityLog
	cli.MetricsCalc = app.MetricsCalc
	cli.AlertEngine = app.AlertEngine
	cli.Notifier = app.Notifier

	return app, nil
}

// backlogSize counts the records waiting in Needs_Action.
func (a *App) backlogSize() (int, error) {
	names, err := a.Store.Names(models.FolderNeedsAction)
	return len(names), err
}

// Close releases resources held by the App, such as the event log and
// activity log file handles.
func (a *App) Close() error {
	var firstErr error
	if a.EventLog != nil {
		firstErr = a.EventLog.Close()
	}
	if a.ActivityLog != nil {
		if err := a.ActivityLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResolveBasePath determines the directory holding .vaultq.yaml. It checks
// the VAULTQ_HOME env var, then walks up from the current directory, then
// falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("VAULTQ_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}
