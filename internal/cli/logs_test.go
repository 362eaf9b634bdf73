package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/internal/observability"
)

func TestLogsRotate_NoConfig(t *testing.T) {
	saveServices(t)
	Config = nil

	if err := logsRotateCmd.RunE(logsRotateCmd, nil); err == nil {
		t.Fatal("expected error without configuration")
	}
}

func TestLogsRotate(t *testing.T) {
	saveServices(t)
	base := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.Logs.MaxBytes = 16
	BasePath, Config = base, cfg

	logsDir := filepath.Join(base, cfg.VaultRoot, cfg.Folders.Logs)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	big := filepath.Join(logsDir, "scheduler.log")
	small := filepath.Join(logsDir, "watcher.log")
	if err := os.WriteFile(big, []byte(strings.Repeat("x", 64)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(small, []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	activityPath := filepath.Join(logsDir, "activity.log")
	if err := os.WriteFile(activityPath, []byte(strings.Repeat("y", 32)), 0o644); err != nil {
		t.Fatal(err)
	}
	activity, err := observability.OpenRotatingFile(activityPath, cfg.Logs.MaxBytes)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	defer activity.Close()
	ActivityLog = activity

	output := captureStdout(t, func() {
		if err := logsRotateCmd.RunE(logsRotateCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	if strings.Count(output, "archived ") != 2 {
		t.Errorf("expected two archives, got:\n%s", output)
	}
	for _, live := range []string{big, activityPath} {
		info, err := os.Stat(live)
		if err != nil {
			t.Fatalf("live log %s should be recreated: %v", live, err)
		}
		if info.Size() != 0 {
			t.Errorf("live log %s should be empty, has %d bytes", live, info.Size())
		}
	}
	if data, _ := os.ReadFile(small); string(data) != "ok\n" {
		t.Error("log under the threshold must not be rotated")
	}

	archives, _ := filepath.Glob(filepath.Join(logsDir, "scheduler_*.log"))
	if len(archives) != 1 {
		t.Errorf("expected one scheduler archive, got %v", archives)
	}

	// The activity writer keeps working after rotation.
	if _, err := activity.Write([]byte("ok\n")); err != nil {
		t.Errorf("write after rotation: %v", err)
	}
	if data, _ := os.ReadFile(activityPath); string(data) != "ok\n" {
		t.Errorf("activity log after rotation = %q", data)
	}
}

func TestLogsRotate_NothingToDo(t *testing.T) {
	saveServices(t)
	BasePath, Config, ActivityLog = t.TempDir(), core.DefaultConfig(), nil

	output := captureStdout(t, func() {
		if err := logsRotateCmd.RunE(logsRotateCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(output, "No logs over the threshold.") {
		t.Errorf("unexpected output:\n%s", output)
	}
}
