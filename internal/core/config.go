// Package core contains the task lifecycle engine of vaultq: ingestion,
// priority scheduling, the approval gate, execution with retry, and the
// process lock and orchestration around them.
package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// ConfigFileName is the configuration file looked up in the base path.
const ConfigFileName = ".vaultq.yaml"

// ConfigurationManager loads and validates the vaultq configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
	ConfigPath() string
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading the YAML configuration file and VAULTQ_ environment overrides.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .vaultq.yaml from basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *models.Config {
	return &models.Config{
		VaultRoot: "AI_Employee_Vault",
		Folders: models.FolderConfig{
			Inbox:         "Inbox",
			NeedsAction:   "Needs_Action",
			NeedsApproval: "Needs_Approval",
			Done:          "Done",
			Actions:       "Actions",
			Logs:          "Logs",
		},
		Logs: models.LogConfig{
			Level:    "info",
			MaxBytes: 1 << 20,
			File:     "activity.log",
		},
		Scheduler: models.SchedulerConfig{Interval: 300 * time.Second},
		Watcher:   models.WatcherConfig{Interval: 5 * time.Second},
		Approval: models.ApprovalConfig{
			PollInterval: 10 * time.Second,
			Timeout:      time.Hour,
			Mode:         models.ApprovalModePark,
			Requester:    "vaultq",
		},
		Executor: models.ExecutorConfig{
			MaxRetries: 3,
			RetryBase:  time.Second,
		},
		Ingest: models.IngestConfig{
			Pipeline: models.PipelinePlan,
		},
		Email: models.EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Social: models.SocialConfig{
			Timeout: 120 * time.Second,
		},
		Webhook: models.WebhookConfig{Timeout: 30 * time.Second},
		Alerts: models.AlertConfig{
			ApprovalPendingHours: 24,
			FailureSpike:         5,
			MaxBacklogSize:       25,
		},
		DashboardFile: "Dashboard.md",
	}
}

func (cm *viperConfigManager) ConfigPath() string {
	return filepath.Join(cm.basePath, ConfigFileName)
}

func setDefaults(v *viper.Viper, cfg *models.Config) {
	v.SetDefault("vault_root", cfg.VaultRoot)
	v.SetDefault("folders.inbox", cfg.Folders.Inbox)
	v.SetDefault("folders.needs_action", cfg.Folders.NeedsAction)
	v.SetDefault("folders.needs_approval", cfg.Folders.NeedsApproval)
	v.SetDefault("folders.done", cfg.Folders.Done)
	v.SetDefault("folders.actions", cfg.Folders.Actions)
	v.SetDefault("folders.logs", cfg.Folders.Logs)
	v.SetDefault("logs.level", cfg.Logs.Level)
	v.SetDefault("logs.max_bytes", cfg.Logs.MaxBytes)
	v.SetDefault("logs.file", cfg.Logs.File)
	v.SetDefault("scheduler.interval", cfg.Scheduler.Interval)
	v.SetDefault("watcher.interval", cfg.Watcher.Interval)
	v.SetDefault("approval.poll_interval", cfg.Approval.PollInterval)
	v.SetDefault("approval.timeout", cfg.Approval.Timeout)
	v.SetDefault("approval.mode", string(cfg.Approval.Mode))
	v.SetDefault("approval.requester", cfg.Approval.Requester)
	v.SetDefault("executor.max_retries", cfg.Executor.MaxRetries)
	v.SetDefault("executor.retry_base", cfg.Executor.RetryBase)
	v.SetDefault("ingest.pipeline", cfg.Ingest.Pipeline)
	v.SetDefault("ingest.include", []string{})
	v.SetDefault("email.smtp_host", cfg.Email.SMTPHost)
	v.SetDefault("email.smtp_port", cfg.Email.SMTPPort)
	v.SetDefault("email.sender", "")
	v.SetDefault("email.password", "")
	v.SetDefault("social.command", "")
	v.SetDefault("social.args", []string{})
	v.SetDefault("social.timeout", cfg.Social.Timeout)
	v.SetDefault("webhook.timeout", cfg.Webhook.Timeout)
	v.SetDefault("alerts.approval_pending_hours", cfg.Alerts.ApprovalPendingHours)
	v.SetDefault("alerts.failure_spike", cfg.Alerts.FailureSpike)
	v.SetDefault("alerts.max_backlog_size", cfg.Alerts.MaxBacklogSize)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.slack_webhook_url", "")
	v.SetDefault("dashboard_file", cfg.DashboardFile)
}

// Load reads .vaultq.yaml from the base path. A missing file yields the
// defaults; environment variables such as VAULTQ_APPROVAL_TIMEOUT override
// both.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, ".yaml"))
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("VAULTQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values, reporting
// every offending field.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	return criterio.ValidateStruct(
		validateFolders(cfg.Folders),
		validateIntervals(cfg),
		criterio.Run("approval.mode", string(cfg.Approval.Mode), oneOf(string(models.ApprovalModePark), string(models.ApprovalModeWait))),
		criterio.Run("ingest.pipeline", cfg.Ingest.Pipeline, oneOf(models.PipelinePlan, models.PipelineTask)),
		criterio.Run("logs.level", cfg.Logs.Level, oneOf("trace", "debug", "info", "warn", "error")),
		validateIncludes(cfg.Ingest.Include),
		validateExecutor(cfg.Executor),
	)
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("%q is invalid, must be one of: %s", v, strings.Join(allowed, ", "))
	}
}

func validateFolders(f models.FolderConfig) error {
	var errs criterio.FieldErrorsBuilder
	seen := make(map[string]string)
	for _, entry := range []struct{ field, name string }{
		{"folders.inbox", f.Inbox},
		{"folders.needs_action", f.NeedsAction},
		{"folders.needs_approval", f.NeedsApproval},
		{"folders.done", f.Done},
		{"folders.actions", f.Actions},
		{"folders.logs", f.Logs},
	} {
		if entry.name == "" {
			errs = errs.Append(entry.field, fmt.Errorf("must not be empty"))
			continue
		}
		if other, ok := seen[entry.name]; ok {
			errs = errs.Append(entry.field, fmt.Errorf("%q is already used by %s", entry.name, other))
			continue
		}
		seen[entry.name] = entry.field
	}
	return errs.ToError()
}

func validateIntervals(cfg *models.Config) error {
	var errs criterio.FieldErrorsBuilder
	for _, entry := range []struct {
		field string
		d     time.Duration
	}{
		{"scheduler.interval", cfg.Scheduler.Interval},
		{"watcher.interval", cfg.Watcher.Interval},
		{"approval.poll_interval", cfg.Approval.PollInterval},
		{"approval.timeout", cfg.Approval.Timeout},
		{"executor.retry_base", cfg.Executor.RetryBase},
	} {
		if entry.d <= 0 {
			errs = errs.Append(entry.field, fmt.Errorf("must be positive, got %s", entry.d))
		}
	}
	if cfg.Logs.MaxBytes <= 0 {
		errs = errs.Append("logs.max_bytes", fmt.Errorf("must be positive, got %d", cfg.Logs.MaxBytes))
	}
	return errs.ToError()
}

func validateIncludes(globs []string) error {
	var errs criterio.FieldErrorsBuilder
	for i, g := range globs {
		if !doublestar.ValidatePattern(g) {
			errs = errs.Append(fmt.Sprintf("ingest.include[%d]", i), fmt.Errorf("invalid glob %q", g))
		}
	}
	return errs.ToError()
}

func validateExecutor(e models.ExecutorConfig) error {
	if e.MaxRetries < 1 {
		return criterio.NewFieldErrors("executor.max_retries", fmt.Errorf("must be at least 1, got %d", e.MaxRetries))
	}
	return nil
}
