package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// resetRunFlags restores the run command flags after the test.
func resetRunFlags(t *testing.T) {
	t.Helper()
	once, daemon, dry, force := runOnce, runDaemon, runDryRun, runForce
	interval, target, mode, timeout := runInterval, runTarget, runApprovalMode, runApprovalTimeout
	t.Cleanup(func() {
		runOnce, runDaemon, runDryRun, runForce = once, daemon, dry, force
		runInterval, runTarget, runApprovalMode, runApprovalTimeout = interval, target, mode, timeout
		runCmd.SetContext(nil)
	})
}

func TestRunCmd_NilOrchestrator(t *testing.T) {
	saveServices(t)
	Orch = nil

	err := runCmd.RunE(runCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestRunCmd_OnceAndDaemonConflict(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	Orch = &fakeOrchestrator{}
	runOnce, runDaemon = true, true

	err := runCmd.RunE(runCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutually exclusive error, got %v", err)
	}
}

func TestRunCmd_InvalidApprovalMode(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	Orch = &fakeOrchestrator{}
	runApprovalMode = "later"

	err := runCmd.RunE(runCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "park or wait") {
		t.Fatalf("expected approval mode error, got %v", err)
	}
}

func TestRunCmd_PassesOptions(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	orch := &fakeOrchestrator{stats: core.SessionStats{Cycles: 3, Completed: 2}}
	Orch = orch
	runDaemon = true
	runInterval = 30 * time.Second
	runTarget = "PLAN_invoice.md"
	runForce = true
	runApprovalMode = "Wait"
	runApprovalTimeout = 5 * time.Minute

	output := captureStdout(t, func() {
		if err := runCmd.RunE(runCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	got := orch.gotOpts
	if got.Mode != core.ModeDaemon {
		t.Errorf("mode = %q, want daemon", got.Mode)
	}
	if got.Interval != 30*time.Second || got.Target != "PLAN_invoice.md" || !got.Force {
		t.Errorf("options not passed through: %+v", got)
	}
	if got.ApprovalMode != models.ApprovalModeWait || got.ApprovalTimeout != 5*time.Minute {
		t.Errorf("approval options = %q %s", got.ApprovalMode, got.ApprovalTimeout)
	}
	if !strings.Contains(output, "Cycles: 3") || !strings.Contains(output, "Completed: 2") {
		t.Errorf("summary missing from output:\n%s", output)
	}
}

func TestRunCmd_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		stats core.SessionStats
		err   error
		want  int
	}{
		{"all succeeded", core.SessionStats{Completed: 2}, nil, ExitOK},
		{"failures", core.SessionStats{Completed: 1, Failed: 1}, nil, ExitFailures},
		{"rejected", core.SessionStats{Rejected: 1}, nil, ExitFailures},
		{"timed out", core.SessionStats{TimedOut: 1}, nil, ExitFailures},
		{"locked", core.SessionStats{}, &core.LockedError{}, ExitFatal},
		{"fatal", core.SessionStats{}, errors.New("vault missing"), ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saveServices(t)
			resetRunFlags(t)
			Orch = &fakeOrchestrator{stats: tt.stats, err: tt.err}

			var err error
			captureStdout(t, func() {
				err = runCmd.RunE(runCmd, nil)
			})
			if got := ExitCode(err); got != tt.want {
				t.Errorf("exit code = %d, want %d (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestRunCmd_InterruptedOnce(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	Orch = &fakeOrchestrator{stats: core.SessionStats{Cycles: 1, Completed: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runCmd.SetContext(ctx)

	var err error
	captureStdout(t, func() {
		err = runCmd.RunE(runCmd, nil)
	})
	if got := ExitCode(err); got != ExitInterrupted {
		t.Errorf("exit code = %d, want %d", got, ExitInterrupted)
	}
}

func TestRunCmd_DaemonShutdownIsClean(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	Orch = &fakeOrchestrator{stats: core.SessionStats{Cycles: 4, Completed: 3}}
	runDaemon = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runCmd.SetContext(ctx)

	var err error
	captureStdout(t, func() {
		err = runCmd.RunE(runCmd, nil)
	})
	if err != nil {
		t.Errorf("graceful daemon shutdown should exit 0, got %v", err)
	}
}

func TestRunCmd_DryRunPrintsPlan(t *testing.T) {
	saveServices(t)
	resetRunFlags(t)
	orch := &fakeOrchestrator{}
	Orch = orch
	Ingest = &fakeIngestor{unseen: []string{"note.txt"}}
	high := models.NewTaskRecord("PLAN_urgent.md")
	high.Header.Set(models.KeyPriority, "high")
	Sched = &fakeScheduler{queue: []*models.TaskRecord{high}}
	runDryRun = true

	output := captureStdout(t, func() {
		if err := runCmd.RunE(runCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !orch.gotOpts.DryRun {
		t.Error("dry run not passed to orchestrator")
	}
	for _, want := range []string{"Dry run", "note.txt", "PLAN_urgent.md", "high"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestIngestCmd_TakesLockAndReports(t *testing.T) {
	saveServices(t)
	origDry := ingestDryRun
	defer func() { ingestDryRun = origDry }()
	ingestDryRun = false

	in := &fakeIngestor{result: &core.IngestResult{
		Scanned:     3,
		AlreadySeen: 1,
		Created:     []string{"PLAN_a.md", "PLAN_b.md"},
	}}
	lock := &fakeLock{}
	Ingest, Lock = in, lock

	output := captureStdout(t, func() {
		if err := ingestCmd.RunE(ingestCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if len(lock.acquired) != 1 || lock.acquired[0] != "ingest" || lock.released != 1 {
		t.Errorf("lock acquired %v released %d", lock.acquired, lock.released)
	}
	if in.reconciled != 1 {
		t.Errorf("reconcile calls = %d, want 1", in.reconciled)
	}
	for _, want := range []string{"Scanned 3 item(s), 1 already processed", "Created (2)", "PLAN_b.md"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestIngestCmd_ReportsBackfilledEntries(t *testing.T) {
	saveServices(t)
	origDry := ingestDryRun
	defer func() { ingestDryRun = origDry }()
	ingestDryRun = false

	in := &fakeIngestor{restored: 2, result: &core.IngestResult{Scanned: 3, AlreadySeen: 3, Backfilled: 1}}
	Ingest, Lock = in, &fakeLock{}

	output := captureStdout(t, func() {
		if err := ingestCmd.RunE(ingestCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(output, "Back-filled 3 registry entr(ies).") {
		t.Errorf("output missing back-fill count:\n%s", output)
	}
}

func TestIngestCmd_DryRunSkipsLock(t *testing.T) {
	saveServices(t)
	origDry := ingestDryRun
	defer func() { ingestDryRun = origDry }()
	ingestDryRun = true

	in := &fakeIngestor{result: &core.IngestResult{Created: []string{"PLAN_a.md"}}}
	lock := &fakeLock{}
	Ingest, Lock = in, lock

	output := captureStdout(t, func() {
		if err := ingestCmd.RunE(ingestCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if len(lock.acquired) != 0 || in.reconciled != 0 {
		t.Errorf("dry run must not lock or reconcile: %v %d", lock.acquired, in.reconciled)
	}
	if !in.gotOpts.DryRun {
		t.Error("dry run not passed to ingestor")
	}
	if !strings.Contains(output, "Would create (1)") {
		t.Errorf("unexpected output:\n%s", output)
	}
}

func TestIngestCmd_Locked(t *testing.T) {
	saveServices(t)
	origDry := ingestDryRun
	defer func() { ingestDryRun = origDry }()
	ingestDryRun = false

	Ingest = &fakeIngestor{}
	Lock = &fakeLock{acquireErr: &core.LockedError{}}

	err := ingestCmd.RunE(ingestCmd, nil)
	if got := ExitCode(err); got != ExitFatal {
		t.Errorf("exit code = %d, want %d", got, ExitFatal)
	}
}

func TestScheduleCmd_ReportsAndFails(t *testing.T) {
	saveServices(t)
	origMode := scheduleApprovalMode
	defer func() { scheduleApprovalMode = origMode }()
	scheduleApprovalMode = "park"

	sched := &fakeScheduler{result: &core.ScheduleResult{
		Dispatched: []string{"PLAN_a.md", "PLAN_b.md"},
		Completed:  []string{"PLAN_a.md"},
		Failed:     []string{"PLAN_b.md"},
		Parked:     []string{"PLAN_c.md"},
	}}
	lock := &fakeLock{}
	Sched, Lock = sched, lock

	var err error
	output := captureStdout(t, func() {
		err = scheduleCmd.RunE(scheduleCmd, nil)
	})
	if got := ExitCode(err); got != ExitFailures {
		t.Errorf("exit code = %d, want %d", got, ExitFailures)
	}
	if sched.gotOpts.ApprovalMode != models.ApprovalModePark {
		t.Errorf("approval mode = %q", sched.gotOpts.ApprovalMode)
	}
	if len(lock.acquired) != 1 || lock.released != 1 {
		t.Errorf("lock acquired %v released %d", lock.acquired, lock.released)
	}
	for _, want := range []string{"Completed (1)", "Failed (1)", "Parked for approval (1)", "PLAN_c.md"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestScheduleCmd_NothingEligible(t *testing.T) {
	saveServices(t)
	Sched = &fakeScheduler{}
	Lock = nil

	output := captureStdout(t, func() {
		if err := scheduleCmd.RunE(scheduleCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(output, "No eligible records.") {
		t.Errorf("unexpected output:\n%s", output)
	}
}

func TestParseApprovalMode(t *testing.T) {
	tests := []struct {
		in      string
		want    models.ApprovalMode
		wantErr bool
	}{
		{"", "", false},
		{"park", models.ApprovalModePark, false},
		{" WAIT ", models.ApprovalModeWait, false},
		{"block", "", true},
	}
	for _, tt := range tests {
		got, err := parseApprovalMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseApprovalMode(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseApprovalMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
