package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// completedSection is the heading completion bullets are inserted under.
const completedSection = "## Completed Tasks"

// DefaultDashboard is written when the dashboard file does not exist.
const DefaultDashboard = `# Dashboard

## Pending Tasks

<!-- Add pending tasks here -->

## Completed Tasks

## Quick Notes

<!-- Add quick notes and reminders here -->
`

// DashboardUpdater is a CompletionHook that records each completed task as
// a bullet in the vault's markdown dashboard.
type DashboardUpdater struct {
	Path string

	mu  sync.Mutex
	now func() time.Time
}

// NewDashboardUpdater returns a DashboardUpdater writing to path.
func NewDashboardUpdater(path string) *DashboardUpdater {
	return &DashboardUpdater{Path: path, now: time.Now}
}

// OnCompleted inserts a bullet for rec directly under the completed section.
// A dashboard without that heading is left untouched.
func (d *DashboardUpdater) OnCompleted(rec *models.TaskRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	content := DefaultDashboard
	data, err := os.ReadFile(d.Path)
	switch {
	case err == nil:
		content = string(data)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading dashboard: %w", err)
	}

	i := strings.Index(content, completedSection)
	if i < 0 {
		return nil
	}

	taskType := rec.Header.Get(models.KeyTaskType)
	if taskType == "" {
		taskType = TaskTypeGeneral
	}
	entry := fmt.Sprintf("\n\n- **%s** - Completed %s\n  - Type: %s\n  - Priority: %s",
		rec.Name, d.now().Format(models.TimeFormat), taskType, rec.Priority())

	at := i + len(completedSection)
	updated := content[:at] + entry + content[at:]
	return writeDashboard(d.Path, []byte(updated))
}

// EnsureDashboard creates the default dashboard if none exists.
func EnsureDashboard(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeDashboard(path, []byte(DefaultDashboard))
}

func writeDashboard(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dashboard directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing dashboard: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing dashboard: %w", err)
	}
	return nil
}
