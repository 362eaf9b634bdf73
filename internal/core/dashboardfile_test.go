package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

func completedRecord(name, taskType string) *models.TaskRecord {
	rec := models.NewTaskRecord(name)
	rec.Header.Set(models.KeyPriority, "high")
	if taskType != "" {
		rec.Header.Set(models.KeyTaskType, taskType)
	}
	return rec
}

func TestDashboardUpdater_InsertsUnderHeading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Dashboard.md")
	if err := EnsureDashboard(path); err != nil {
		t.Fatalf("EnsureDashboard: %v", err)
	}
	d := NewDashboardUpdater(path)
	d.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local) }

	if err := d.OnCompleted(completedRecord("first.md", TaskTypeReview)); err != nil {
		t.Fatalf("OnCompleted: %v", err)
	}
	if err := d.OnCompleted(completedRecord("second.md", "")); err != nil {
		t.Fatalf("OnCompleted: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	want := "## Completed Tasks\n\n- **second.md** - Completed 2026-02-03 04:05:06\n  - Type: general_task\n  - Priority: high"
	if !strings.Contains(content, want) {
		t.Errorf("dashboard missing newest entry directly under heading:\n%s", content)
	}
	if strings.Index(content, "second.md") > strings.Index(content, "first.md") {
		t.Error("newest entry is not first")
	}
	if !strings.Contains(content, "  - Type: review") {
		t.Error("missing task type of first entry")
	}
}

func TestDashboardUpdater_NoHeadingIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dashboard.md", "# My own layout\n")
	path := filepath.Join(dir, "Dashboard.md")

	if err := NewDashboardUpdater(path).OnCompleted(completedRecord("x.md", "")); err != nil {
		t.Fatalf("OnCompleted: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# My own layout\n" {
		t.Errorf("dashboard changed:\n%s", data)
	}
}

func TestEnsureDashboard_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dashboard.md", "custom")
	path := filepath.Join(dir, "Dashboard.md")

	if err := EnsureDashboard(path); err != nil {
		t.Fatalf("EnsureDashboard: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "custom" {
		t.Errorf("existing dashboard overwritten: %q", data)
	}
}
