// Package cli implements the vaultq command tree. Services are package-level
// variables set by the application wiring before Execute runs.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/core"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitFatal       = 2
	ExitInterrupted = 130
)

// ExitError carries a process exit code out of a command. Err may be nil when
// the command already reported its outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFatal
}

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "vaultq",
	Short: "vaultq - file-system-backed task queue with human approval",
	Long: `vaultq turns files dropped into a vault Inbox into task records, schedules
them by priority, routes sensitive actions through a human approval gate and
executes them with retry, moving each record through the lifecycle folders
Needs_Action, Needs_Approval and Done.

Exit codes: 0 all succeeded, 1 some tasks failed or were rejected,
2 fatal error or approval timeout, 130 interrupted.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vaultq %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command with ctx, which is cancelled on shutdown
// signals.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// interrupted wraps err when ctx was cancelled by a shutdown signal.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, core.ErrLocked) {
		return &ExitError{Code: ExitInterrupted, Err: err}
	}
	return err
}
