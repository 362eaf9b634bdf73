package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/internal/observability"
	"github.com/valter-silva-au/vaultq/internal/storage"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		out, _ := io.ReadAll(r)
		done <- out
	}()

	fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done)
}

// saveServices restores every package-level service after the test.
func saveServices(t *testing.T) {
	t.Helper()
	orch, ingest, sched, lock := Orch, Ingest, Sched, Lock
	gate, store, registry := Gate, Store, Registry
	mc, ae, notifier := MetricsCalc, AlertEngine, Notifier
	vi, base, cfg, activity := VaultInit, BasePath, Config, ActivityLog
	t.Cleanup(func() {
		Orch, Ingest, Sched, Lock = orch, ingest, sched, lock
		Gate, Store, Registry = gate, store, registry
		MetricsCalc, AlertEngine, Notifier = mc, ae, notifier
		VaultInit, BasePath, Config, ActivityLog = vi, base, cfg, activity
	})
}

// --- Fakes ---

type fakeOrchestrator struct {
	stats   core.SessionStats
	err     error
	gotOpts core.RunOptions
	calls   int
}

func (f *fakeOrchestrator) RunCycle(_ context.Context, opts core.RunOptions) (*core.CycleResult, error) {
	f.gotOpts = opts
	return &core.CycleResult{}, f.err
}

func (f *fakeOrchestrator) Run(_ context.Context, opts core.RunOptions) (core.SessionStats, error) {
	f.calls++
	f.gotOpts = opts
	return f.stats, f.err
}

func (f *fakeOrchestrator) Stats() core.SessionStats {
	return f.stats
}

type fakeScheduler struct {
	result  *core.ScheduleResult
	queue   []*models.TaskRecord
	err     error
	gotOpts core.ScheduleOptions
}

func (f *fakeScheduler) Schedule(_ context.Context, opts core.ScheduleOptions) (*core.ScheduleResult, error) {
	f.gotOpts = opts
	if f.result == nil {
		return &core.ScheduleResult{}, f.err
	}
	return f.result, f.err
}

func (f *fakeScheduler) Queue(string) ([]*models.TaskRecord, error) {
	return f.queue, f.err
}

type fakeIngestor struct {
	result     *core.IngestResult
	unseen     []string
	reconciled int
	restored   int
	gotOpts    core.IngestOptions
}

func (f *fakeIngestor) Scan() ([]string, error) {
	return f.unseen, nil
}

func (f *fakeIngestor) Ingest(_ context.Context, opts core.IngestOptions) (*core.IngestResult, error) {
	f.gotOpts = opts
	if f.result == nil {
		return &core.IngestResult{}, nil
	}
	return f.result, nil
}

func (f *fakeIngestor) Reconcile() (int, error) {
	f.reconciled++
	return f.restored, nil
}

func (f *fakeIngestor) ArtifactName(source string) string {
	return "PLAN_" + source
}

type fakeLock struct {
	acquireErr error
	acquired   []string
	released   int
	holder     *core.LockInfo
}

func (f *fakeLock) Acquire(mode string) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = append(f.acquired, mode)
	return nil
}

func (f *fakeLock) Release() error {
	f.released++
	return nil
}

func (f *fakeLock) Holder() (core.LockInfo, bool) {
	if f.holder == nil {
		return core.LockInfo{}, false
	}
	return *f.holder, true
}

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
	err     error
}

func (f *fakeMetricsCalculator) Calculate(time.Time) (*observability.Metrics, error) {
	return f.metrics, f.err
}

type fakeAlertEngine struct {
	alerts []observability.Alert
	err    error
}

func (f *fakeAlertEngine) Evaluate() ([]observability.Alert, error) {
	return f.alerts, f.err
}

type fakeNotifier struct {
	sent []observability.Alert
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, alerts []observability.Alert) error {
	f.sent = append(f.sent, alerts...)
	return f.err
}

// --- Real vault ---

type cliVault struct {
	root     string
	store    storage.RecordStore
	registry storage.Registry
	gate     core.ApprovalGate
	sched    core.Scheduler
}

// newCLIVault builds the storage layer, gate and scheduler over a temp vault
// and installs them as the package services.
func newCLIVault(t *testing.T) *cliVault {
	t.Helper()
	saveServices(t)
	root := t.TempDir()
	store := storage.NewRecordStore(root, core.DefaultConfig().Folders)
	if err := store.EnsureFolders(); err != nil {
		t.Fatalf("EnsureFolders: %v", err)
	}
	reg, err := storage.NewRegistry(filepath.Join(root, "Logs", "processed.json"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	gate := core.NewApprovalGate(store, core.ApprovalGateConfig{PollInterval: 10 * time.Millisecond}, zerolog.Nop(), nil)
	sched := core.NewScheduler(store, gate, nil, core.SchedulerConfig{}, zerolog.Nop(), nil)

	Store, Registry, Gate, Sched = store, reg, gate, sched
	return &cliVault{root: root, store: store, registry: reg, gate: gate, sched: sched}
}

func (v *cliVault) put(t *testing.T, f models.Folder, name string, p models.Priority, status models.Status) *models.TaskRecord {
	t.Helper()
	rec := models.NewTaskRecord(name)
	rec.Folder = f
	rec.Header.Set(models.KeyType, "action_plan")
	rec.Header.Set(models.KeyStatus, string(status))
	rec.Header.Set(models.KeyPriority, string(p))
	rec.Stamp(models.KeyCreatedAt, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	rec.Body = "\n# " + name + "\n"
	if err := v.store.Create(rec); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return rec
}
