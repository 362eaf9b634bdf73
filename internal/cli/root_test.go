package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/valter-silva-au/vaultq/internal/core"
)

func TestRootCommand_Registration(t *testing.T) {
	want := []string{"run", "ingest", "schedule", "approval", "status", "logs", "init", "dashboard", "metrics", "alerts", "mcp", "version"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("expected %q command to be registered", name)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"exit error", &ExitError{Code: ExitFailures}, ExitFailures},
		{"wrapped exit error", fmt.Errorf("outer: %w", &ExitError{Code: ExitInterrupted}), ExitInterrupted},
		{"cancelled", fmt.Errorf("scheduling: %w", context.Canceled), ExitInterrupted},
		{"plain error", errors.New("boom"), ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitError_Message(t *testing.T) {
	inner := errors.New("lock held")
	ee := &ExitError{Code: ExitFatal, Err: inner}
	if ee.Error() != "lock held" {
		t.Errorf("Error() = %q", ee.Error())
	}
	if !errors.Is(ee, inner) {
		t.Error("ExitError should unwrap to its cause")
	}
	bare := &ExitError{Code: ExitFailures}
	if bare.Error() != "exit status 1" {
		t.Errorf("bare Error() = %q", bare.Error())
	}
}

func TestInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := errors.New("stopped")

	if got := interrupted(ctx, err); got != err {
		t.Errorf("live context should pass the error through, got %v", got)
	}

	cancel()
	if got := ExitCode(interrupted(ctx, err)); got != ExitInterrupted {
		t.Errorf("cancelled context exit code = %d, want %d", got, ExitInterrupted)
	}
	locked := fmt.Errorf("run: %w", core.ErrLocked)
	if got := interrupted(ctx, locked); got != locked {
		t.Errorf("lock errors must not become interruptions, got %v", got)
	}
}

func TestSetVersionInfo(t *testing.T) {
	origV, origC, origD := appVersion, appCommit, appDate
	defer func() { appVersion, appCommit, appDate = origV, origC, origD }()

	SetVersionInfo("1.2.3", "abc123", "2026-03-01")
	output := captureStdout(t, func() {
		versionCmd.Run(versionCmd, nil)
	})
	want := "vaultq 1.2.3\ncommit: abc123\nbuilt:  2026-03-01\n"
	if output != want {
		t.Errorf("version output = %q, want %q", output, want)
	}
}
