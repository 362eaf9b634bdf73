package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
	"pgregory.net/rapid"
)

// Feature: vaultq, Property 7: Configuration Overrides
// For any valid interval, retry and mode values written to .vaultq.yaml, Load
// SHALL return exactly those values and SHALL keep the defaults for every key
// the file omits.
func TestProperty_ConfigurationOverrides(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp("", "config-prop7-*")
		if err != nil {
			rt.Fatalf("creating temp dir: %v", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		interval := time.Duration(rapid.IntRange(1, 86400).Draw(rt, "interval")) * time.Second
		retries := rapid.IntRange(1, 10).Draw(rt, "retries")
		mode := rapid.SampledFrom([]models.ApprovalMode{models.ApprovalModePark, models.ApprovalModeWait}).Draw(rt, "mode")

		content := fmt.Sprintf("scheduler:\n  interval: %s\nexecutor:\n  max_retries: %d\napproval:\n  mode: %s\n", interval, retries, mode)
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
			rt.Fatalf("writing config: %v", err)
		}

		cm := NewConfigurationManager(dir)
		cfg, err := cm.Load()
		if err != nil {
			rt.Fatalf("Load: %v", err)
		}
		if cfg.Scheduler.Interval != interval {
			rt.Errorf("Scheduler.Interval = %s, want %s", cfg.Scheduler.Interval, interval)
		}
		if cfg.Executor.MaxRetries != retries {
			rt.Errorf("Executor.MaxRetries = %d, want %d", cfg.Executor.MaxRetries, retries)
		}
		if cfg.Approval.Mode != mode {
			rt.Errorf("Approval.Mode = %q, want %q", cfg.Approval.Mode, mode)
		}

		def := DefaultConfig()
		if cfg.Approval.Timeout != def.Approval.Timeout || cfg.Folders != def.Folders {
			rt.Errorf("omitted keys lost their defaults: %+v", cfg)
		}
		if err := cm.ValidateConfig(cfg); err != nil {
			rt.Errorf("ValidateConfig: %v", err)
		}
	})
}
