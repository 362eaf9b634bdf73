package models

import "time"

// FolderConfig holds the on-disk directory names of the lifecycle folders,
// relative to the vault root.
type FolderConfig struct {
	Inbox         string `yaml:"inbox" mapstructure:"inbox"`
	NeedsAction   string `yaml:"needs_action" mapstructure:"needs_action"`
	NeedsApproval string `yaml:"needs_approval" mapstructure:"needs_approval"`
	Done          string `yaml:"done" mapstructure:"done"`
	Actions       string `yaml:"actions" mapstructure:"actions"`
	Logs          string `yaml:"logs" mapstructure:"logs"`
}

// Name returns the directory name configured for f.
func (fc FolderConfig) Name(f Folder) string {
	switch f {
	case FolderInbox:
		return fc.Inbox
	case FolderNeedsAction:
		return fc.NeedsAction
	case FolderNeedsApproval:
		return fc.NeedsApproval
	case FolderDone:
		return fc.Done
	case FolderActions:
		return fc.Actions
	}
	return string(f)
}

// LogConfig controls the activity log.
type LogConfig struct {
	Level    string `yaml:"level" mapstructure:"level"`
	MaxBytes int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
	File     string `yaml:"file" mapstructure:"file"`
}

// SchedulerConfig controls the run loop.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// WatcherConfig controls the inbox polling loop of the daemon.
type WatcherConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApprovalMode selects how the scheduler handles records needing a decision.
type ApprovalMode string

const (
	// ApprovalModePark moves the record to the approval folder and moves on.
	ApprovalModePark ApprovalMode = "park"
	// ApprovalModeWait blocks the scheduler until a decision or timeout.
	ApprovalModeWait ApprovalMode = "wait"
)

// ApprovalConfig controls the approval gate.
type ApprovalConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Mode         ApprovalMode  `yaml:"mode" mapstructure:"mode"`
	Requester    string        `yaml:"requester" mapstructure:"requester"`
}

// ExecutorConfig controls the retry policy.
type ExecutorConfig struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base" mapstructure:"retry_base"`
}

// Ingest pipelines.
const (
	PipelinePlan = "plan"
	PipelineTask = "task"
)

// IngestConfig controls how inbox items become records.
type IngestConfig struct {
	Pipeline string   `yaml:"pipeline" mapstructure:"pipeline"`
	Include  []string `yaml:"include" mapstructure:"include"`
}

// EmailConfig holds SMTP settings for the email capability.
type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port" mapstructure:"smtp_port"`
	Sender   string `yaml:"sender" mapstructure:"sender"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SocialConfig holds the external command used to publish social posts.
type SocialConfig struct {
	Command string        `yaml:"command" mapstructure:"command"`
	Args    []string      `yaml:"args" mapstructure:"args"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WebhookConfig holds defaults for the webhook capability.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	ApprovalPendingHours int `yaml:"approval_pending_hours" mapstructure:"approval_pending_hours"`
	FailureSpike         int `yaml:"failure_spike" mapstructure:"failure_spike"`
	MaxBacklogSize       int `yaml:"max_backlog_size" mapstructure:"max_backlog_size"`
}

// NotificationConfig holds outbound notification settings.
type NotificationConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
}

// Config is the full vaultq configuration read from .vaultq.yaml via Viper.
type Config struct {
	VaultRoot     string             `yaml:"vault_root" mapstructure:"vault_root"`
	Folders       FolderConfig       `yaml:"folders" mapstructure:"folders"`
	Logs          LogConfig          `yaml:"logs" mapstructure:"logs"`
	Scheduler     SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Watcher       WatcherConfig      `yaml:"watcher" mapstructure:"watcher"`
	Approval      ApprovalConfig     `yaml:"approval" mapstructure:"approval"`
	Executor      ExecutorConfig     `yaml:"executor" mapstructure:"executor"`
	Ingest        IngestConfig       `yaml:"ingest" mapstructure:"ingest"`
	Email         EmailConfig        `yaml:"email" mapstructure:"email"`
	Social        SocialConfig       `yaml:"social" mapstructure:"social"`
	Webhook       WebhookConfig      `yaml:"webhook" mapstructure:"webhook"`
	Alerts        AlertConfig        `yaml:"alerts" mapstructure:"alerts"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	DashboardFile string             `yaml:"dashboard_file" mapstructure:"dashboard_file"`
}
