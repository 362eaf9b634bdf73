package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// newTestApp creates a fully wired App in a temporary directory with an
// optional .vaultq.yaml. Logs are closed when the test finishes.
func newTestApp(t *testing.T, configYAML string) *App {
	t.Helper()
	dir := t.TempDir()
	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(dir, core.ConfigFileName), []byte(configYAML), 0o644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
	}
	app, err := newApp(dir, io.Discard)
	if err != nil {
		t.Fatalf("creating test app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func dropInbox(t *testing.T, app *App, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(app.Store.Dir(models.FolderInbox), name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing inbox item: %v", err)
	}
}

func runOnce(t *testing.T, app *App) core.SessionStats {
	t.Helper()
	stats, err := app.Orchestrator.Run(context.Background(), core.RunOptions{Mode: core.ModeOnce})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return stats
}

// webhookServer records the bodies it receives.
type webhookServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func newWebhookServer(t *testing.T) *webhookServer {
	t.Helper()
	ws := &webhookServer{}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		ws.mu.Lock()
		ws.bodies = append(ws.bodies, string(data))
		ws.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *webhookServer) received() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]string(nil), ws.bodies...)
}

func putAction(t *testing.T, app *App, name string, fields map[string]string, body string) {
	t.Helper()
	rec := models.NewTaskRecord(name)
	rec.Folder = models.FolderActions
	rec.Header.Set(models.KeyType, "action")
	rec.Header.Set(models.KeyStatus, string(models.StatusPending))
	rec.Header.Set(models.KeyPriority, string(models.PriorityHigh))
	rec.Stamp(models.KeyCreatedAt, time.Now())
	for k, v := range fields {
		rec.Header.Set(k, v)
	}
	rec.Body = body
	if err := app.Store.Create(rec); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
}

// =========================================================================
// Inbox -> Needs_Action -> Done
// =========================================================================

func TestIntegration_InboxToDone(t *testing.T) {
	app := newTestApp(t, "")
	dropInbox(t, app, "invoice.md", "Please pay the March invoice from Acme.\n")

	stats := runOnce(t, app)
	if stats.Ingested != 1 || stats.Completed != 1 || stats.HasFailures() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	artifact := app.Ingestor.ArtifactName("invoice.md")
	done, err := app.Store.Read(models.FolderDone, artifact)
	if err != nil {
		t.Fatalf("artifact not in Done: %v", err)
	}
	if done.Status() != models.StatusCompleted {
		t.Errorf("status = %q, want completed", done.Status())
	}
	if !done.Header.Has(models.KeyCompletedAt) {
		t.Error("completed_at not stamped")
	}
	if names, _ := app.Store.Names(models.FolderNeedsAction); len(names) != 0 {
		t.Errorf("Needs_Action should be empty, has %v", names)
	}
	if _, err := os.Stat(filepath.Join(app.Store.Dir(models.FolderInbox), "invoice.md")); err != nil {
		t.Error("inbox source must be left in place")
	}

	entry, ok := app.Registry.Lookup("invoice.md")
	if !ok || entry.PlanCreated != artifact {
		t.Errorf("registry entry = %+v, %v", entry, ok)
	}

	dashboard, err := os.ReadFile(filepath.Join(app.VaultPath, app.Config.DashboardFile))
	if err != nil {
		t.Fatalf("reading dashboard: %v", err)
	}
	if !strings.Contains(string(dashboard), artifact) {
		t.Errorf("dashboard missing completed record:\n%s", dashboard)
	}

	metrics, err := app.MetricsCalc.Calculate(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if metrics.Ingested != 1 || metrics.Completed != 1 || metrics.Cycles != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestIntegration_UrgentReportIsServedFirst(t *testing.T) {
	app := newTestApp(t, "")
	dropInbox(t, app, "chores.md", "Tidy the shared drive sometime.\n")
	dropInbox(t, app, "report.md", "urgent: fix production outage\n")

	if _, err := app.Ingestor.Ingest(context.Background(), core.IngestOptions{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	plan, err := app.Store.Read(models.FolderNeedsAction, "Plan_report.md")
	if err != nil {
		t.Fatalf("plan not in Needs_Action: %v", err)
	}
	if plan.Priority() != models.PriorityHigh || plan.Header.Get(models.KeyTaskType) != "bug_fix" {
		t.Errorf("classification: priority %q, task_type %q", plan.Priority(), plan.Header.Get(models.KeyTaskType))
	}

	queue, err := app.Scheduler.Queue("")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(queue) != 2 || queue[0].Name != "Plan_report.md" {
		t.Fatalf("queue order = %v", recordNames(queue))
	}

	stats := runOnce(t, app)
	if stats.Completed != 2 || stats.Parked != 0 {
		t.Fatalf("plans should complete without approval: %+v", stats)
	}
	done, err := app.Store.Read(models.FolderDone, "Plan_report.md")
	if err != nil {
		t.Fatalf("plan not in Done: %v", err)
	}
	if done.Status() != models.StatusCompleted || !done.Header.Has(models.KeyCompletedAt) {
		t.Errorf("done header: status %q, completed_at %q", done.Status(), done.Header.Get(models.KeyCompletedAt))
	}
}

func recordNames(recs []*models.TaskRecord) []string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	return names
}

func TestIntegration_IngestIsIdempotent(t *testing.T) {
	app := newTestApp(t, "")
	dropInbox(t, app, "note.md", "Call the dentist.\n")

	first := runOnce(t, app)
	second := runOnce(t, app)
	if first.Ingested != 1 {
		t.Errorf("first run ingested %d, want 1", first.Ingested)
	}
	if second.Ingested != 0 || second.Completed != 0 {
		t.Errorf("second run should do nothing: %+v", second)
	}
	if app.Registry.Len() != 1 {
		t.Errorf("registry has %d entries, want 1", app.Registry.Len())
	}
	if names, _ := app.Store.Names(models.FolderDone); len(names) != 1 {
		t.Errorf("Done should hold one record, has %v", names)
	}
}

func TestIntegration_TaskPipeline(t *testing.T) {
	app := newTestApp(t, "ingest:\n  pipeline: task\n")
	dropInbox(t, app, "report.pdf", "%PDF-1.4 fake")

	stats := runOnce(t, app)
	if stats.Ingested != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, err := app.Store.Read(models.FolderDone, "task_report.pdf.md"); err != nil {
		t.Errorf("task record not in Done: %v", err)
	}
}

// =========================================================================
// Actions -> Needs_Approval -> decision -> Done
// =========================================================================

func TestIntegration_ApprovalParkThenExecute(t *testing.T) {
	ws := newWebhookServer(t)
	app := newTestApp(t, "")
	putAction(t, app, "ACTION_notify.md", map[string]string{
		models.KeyActionType: "webhook",
		models.KeyURL:        ws.URL,
	}, `{"text": "deploy finished"}`)

	first := runOnce(t, app)
	if first.Parked != 1 || first.Completed != 0 {
		t.Fatalf("first run should park: %+v", first)
	}
	parked, err := app.Store.Read(models.FolderNeedsApproval, "ACTION_notify.md")
	if err != nil {
		t.Fatalf("record not parked: %v", err)
	}
	if parked.Status() != models.StatusAwaitingApproval || !parked.Header.Has(models.KeyTimeoutAt) {
		t.Errorf("parked header: status %q, timeout_at %q", parked.Status(), parked.Header.Get(models.KeyTimeoutAt))
	}
	if len(ws.received()) != 0 {
		t.Fatal("webhook must not fire before approval")
	}

	if err := app.Gate.Decide("ACTION_notify.md", models.DecisionApproved, "ok to send"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	second := runOnce(t, app)
	if second.Completed != 1 || second.HasFailures() {
		t.Fatalf("second run should execute: %+v", second)
	}
	if got := ws.received(); len(got) != 1 || got[0] != `{"text": "deploy finished"}` {
		t.Errorf("webhook bodies = %q", got)
	}
	if _, err := app.Store.Read(models.FolderDone, "ACTION_notify.md"); err != nil {
		t.Errorf("executed record not in Done: %v", err)
	}
}

func TestIntegration_RejectedActionNeverRuns(t *testing.T) {
	ws := newWebhookServer(t)
	app := newTestApp(t, "")
	putAction(t, app, "ACTION_post.md", map[string]string{
		models.KeyActionType: "webhook",
		models.KeyURL:        ws.URL,
	}, "hello")

	runOnce(t, app)
	if err := app.Gate.Decide("ACTION_post.md", models.DecisionRejected, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	stats := runOnce(t, app)
	if stats.Rejected != 1 || !stats.HasFailures() {
		t.Errorf("expected one rejection: %+v", stats)
	}
	rec, err := app.Store.Read(models.FolderDone, "ACTION_post.md")
	if err != nil {
		t.Fatalf("rejected record not in Done: %v", err)
	}
	if rec.Status() != models.StatusRejected {
		t.Errorf("status = %q, want rejected", rec.Status())
	}
	if len(ws.received()) != 0 {
		t.Error("rejected action must never execute")
	}
}

func TestIntegration_ForceBypassesApproval(t *testing.T) {
	ws := newWebhookServer(t)
	app := newTestApp(t, "")
	putAction(t, app, "ACTION_ping.md", map[string]string{
		models.KeyActionType: "webhook",
		models.KeyURL:        ws.URL,
		models.KeyMethod:     "GET",
	}, "")

	stats, err := app.Orchestrator.Run(context.Background(), core.RunOptions{Mode: core.ModeOnce, Force: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Completed != 1 || stats.Parked != 0 {
		t.Errorf("forced run should execute directly: %+v", stats)
	}
	if len(ws.received()) != 1 {
		t.Errorf("webhook calls = %d, want 1", len(ws.received()))
	}
}

func TestIntegration_PermanentFailureGoesToDone(t *testing.T) {
	app := newTestApp(t, "")
	putAction(t, app, "ACTION_mail.md", map[string]string{
		models.KeyActionType:       "email",
		models.KeyRequiresApproval: "false",
	}, "## To\nbob@example.com\n\n## Subject\nHi\n\n## Body\nHello\n")

	stats := runOnce(t, app)
	if stats.Failed != 1 {
		t.Fatalf("expected a failure without SMTP credentials: %+v", stats)
	}
	rec, err := app.Store.Read(models.FolderDone, "ACTION_mail.md")
	if err != nil {
		t.Fatalf("failed record not in Done: %v", err)
	}
	if rec.Status() != models.StatusFailed || rec.Header.Get(models.KeyErrorMessage) == "" {
		t.Errorf("failed header: status %q, error %q", rec.Status(), rec.Header.Get(models.KeyErrorMessage))
	}
}

// =========================================================================
// Process lock
// =========================================================================

func TestIntegration_SecondInstanceIsLockedOut(t *testing.T) {
	app := newTestApp(t, "")
	dropInbox(t, app, "note.md", "Water the plants.\n")

	// The parent process is alive and is not us.
	lockPath := filepath.Join(app.VaultPath, app.Config.Folders.Logs, LockFileName)
	holder := fmt.Sprintf(`{"pid": %d, "started_at": "2026-01-01T00:00:00", "mode": "daemon"}`, os.Getppid())
	if err := os.WriteFile(lockPath, []byte(holder), 0o644); err != nil {
		t.Fatalf("writing lock: %v", err)
	}

	_, err := app.Orchestrator.Run(context.Background(), core.RunOptions{Mode: core.ModeOnce})
	if !errors.Is(err, core.ErrLocked) {
		t.Fatalf("Run error = %v, want ErrLocked", err)
	}
	if app.Registry.Len() != 0 {
		t.Error("a locked-out run must not ingest")
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Error("the other instance's lock must be left in place")
	}
}
