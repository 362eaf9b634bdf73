package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Pipeline services. Set during application wiring.
var (
	Orch   core.Orchestrator
	Ingest core.Ingestor
	Sched  core.Scheduler
	Lock   core.ProcessLock
)

var (
	runOnce            bool
	runDaemon          bool
	runDryRun          bool
	runForce           bool
	runInterval        time.Duration
	runTarget          string
	runApprovalMode    string
	runApprovalTimeout time.Duration
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the inbox and run scheduling cycles",
	Long: `Run the full pipeline: reconcile the registry, ingest new inbox items and
dispatch eligible records in priority order.

By default a single cycle runs and the process exits (--once). With --daemon
the inbox watcher and the scheduler run as independent polling loops until
SIGINT or SIGTERM; the cycle in progress always finishes first.

Only one instance may run against a vault at a time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Orch == nil {
			return fmt.Errorf("orchestrator not initialized")
		}
		if runOnce && runDaemon {
			return fmt.Errorf("--once and --daemon are mutually exclusive")
		}
		mode, err := parseApprovalMode(runApprovalMode)
		if err != nil {
			return err
		}

		opts := core.RunOptions{
			Mode:            core.ModeOnce,
			DryRun:          runDryRun,
			Force:           runForce,
			Target:          runTarget,
			ApprovalMode:    mode,
			ApprovalTimeout: runApprovalTimeout,
			Interval:        runInterval,
		}
		if runDaemon {
			opts.Mode = core.ModeDaemon
		}

		if opts.DryRun {
			printDryRunPlan(runTarget)
		}

		ctx := commandContext(cmd)
		stats, err := Orch.Run(ctx, opts)
		if err != nil {
			if errors.Is(err, core.ErrLocked) {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			return interrupted(ctx, err)
		}

		printSessionStats(stats)
		if opts.Mode == core.ModeOnce && ctx.Err() != nil {
			return &ExitError{Code: ExitInterrupted}
		}
		if stats.HasFailures() {
			return &ExitError{Code: ExitFailures}
		}
		return nil
	},
}

var (
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Turn new inbox items into task records",
	Long: `Scan the Inbox for items that have not produced a task record yet and derive
one for each, recording every source in the registry so it is never
ingested twice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Ingest == nil {
			return fmt.Errorf("ingestor not initialized")
		}
		release, err := acquireLock("ingest", ingestDryRun)
		if err != nil {
			return err
		}
		defer release()

		var reconciled int
		if !ingestDryRun {
			if reconciled, err = Ingest.Reconcile(); err != nil {
				fmt.Printf("Warning: reconciling registry: %v\n", err)
			}
		}

		ctx := commandContext(cmd)
		res, err := Ingest.Ingest(ctx, core.IngestOptions{DryRun: ingestDryRun})
		if err != nil {
			return interrupted(ctx, fmt.Errorf("ingesting inbox: %w", err))
		}
		res.Backfilled += reconciled

		verb := "Created"
		if ingestDryRun {
			verb = "Would create"
		}
		fmt.Printf("Scanned %d item(s), %d already processed.\n", res.Scanned, res.AlreadySeen)
		printNames(verb, res.Created, okStyle)
		printNames("Skipped", res.Skipped, warnStyle)
		if res.Backfilled > 0 {
			fmt.Printf("Back-filled %d registry entr(ies).\n", res.Backfilled)
		}
		return nil
	},
}

var (
	scheduleDryRun          bool
	scheduleForce           bool
	scheduleTarget          string
	scheduleApprovalMode    string
	scheduleApprovalTimeout time.Duration
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one scheduling cycle over the queued records",
	Long: `Dispatch every eligible record in Needs_Action, Actions and Needs_Approval
in priority order (high, medium, low; oldest first within a priority).

Records that need a decision are parked in Needs_Approval (--approval-mode park)
or block the cycle until decided (--approval-mode wait).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sched == nil {
			return fmt.Errorf("scheduler not initialized")
		}
		mode, err := parseApprovalMode(scheduleApprovalMode)
		if err != nil {
			return err
		}
		release, err := acquireLock("schedule", scheduleDryRun)
		if err != nil {
			return err
		}
		defer release()

		ctx := commandContext(cmd)
		res, err := Sched.Schedule(ctx, core.ScheduleOptions{
			DryRun:          scheduleDryRun,
			Force:           scheduleForce,
			Target:          scheduleTarget,
			ApprovalMode:    mode,
			ApprovalTimeout: scheduleApprovalTimeout,
		})
		if err != nil {
			return interrupted(ctx, fmt.Errorf("scheduling: %w", err))
		}

		printScheduleResult(res, scheduleDryRun)
		if ctx.Err() != nil {
			return &ExitError{Code: ExitInterrupted}
		}
		if res.HasFailures() {
			return &ExitError{Code: ExitFailures}
		}
		return nil
	},
}

// acquireLock takes the process lock unless this is a dry run. The returned
// release func is always safe to call.
func acquireLock(mode string, dryRun bool) (func(), error) {
	if dryRun || Lock == nil {
		return func() {}, nil
	}
	if err := Lock.Acquire(mode); err != nil {
		return nil, &ExitError{Code: ExitFatal, Err: err}
	}
	return func() { _ = Lock.Release() }, nil
}

func parseApprovalMode(s string) (models.ApprovalMode, error) {
	switch m := models.ApprovalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", models.ApprovalModePark, models.ApprovalModeWait:
		return m, nil
	default:
		return "", fmt.Errorf("invalid --approval-mode %q: must be park or wait", s)
	}
}

func printDryRunPlan(target string) {
	fmt.Println(dimStyle.Render("Dry run: nothing will be moved, rewritten or executed."))
	if Ingest != nil {
		if unseen, err := Ingest.Scan(); err == nil {
			printNames("Would ingest", unseen, okStyle)
		}
	}
	if Sched != nil {
		queue, err := Sched.Queue(target)
		if err != nil {
			return
		}
		fmt.Printf("Dispatch order (%d):\n", len(queue))
		for i, rec := range queue {
			fmt.Printf("  %2d. %-40s %-6s %s\n", i+1, rec.Name, rec.Priority(), rec.Header.Get(models.KeyCreatedAt))
		}
	}
}

func printSessionStats(st core.SessionStats) {
	fmt.Printf("Cycles: %d  Ingested: %d  %s  %s  %s\n",
		st.Cycles,
		st.Ingested,
		okStyle.Render(fmt.Sprintf("Completed: %d", st.Completed)),
		warnStyle.Render(fmt.Sprintf("Parked: %d", st.Parked)),
		failStyle.Render(fmt.Sprintf("Failed: %d", st.Failed)),
	)
	if st.Rejected > 0 || st.TimedOut > 0 || st.Errors > 0 {
		fmt.Printf("Rejected: %d  Timed out: %d  Errors: %d\n", st.Rejected, st.TimedOut, st.Errors)
	}
}

func printScheduleResult(res *core.ScheduleResult, dryRun bool) {
	if dryRun {
		fmt.Println(dimStyle.Render("Dry run: nothing was moved, rewritten or executed."))
		printNames("Would dispatch", res.Dispatched, okStyle)
		return
	}
	printNames("Recovered", res.Recovered, dimStyle)
	printNames("Completed", res.Completed, okStyle)
	printNames("Parked for approval", res.Parked, warnStyle)
	printNames("Failed", res.Failed, failStyle)
	printNames("Rejected", res.Rejected, failStyle)
	printNames("Timed out", res.TimedOut, failStyle)
	if res.Errors > 0 {
		fmt.Println(failStyle.Render(fmt.Sprintf("Storage errors: %d", res.Errors)))
	}
	if len(res.Dispatched) == 0 && len(res.Parked) == 0 {
		fmt.Println("No eligible records.")
	}
}

func printNames(label string, names []string, style lipgloss.Style) {
	if len(names) == 0 {
		return
	}
	fmt.Println(style.Render(fmt.Sprintf("%s (%d):", label, len(names))))
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit (default)")
	runCmd.Flags().BoolVar(&runDaemon, "daemon", false, "Run continuously until interrupted")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Scheduling interval in daemon mode (default from config)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Report what would happen without changing anything")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Bypass the approval gate for this run")
	runCmd.Flags().StringVar(&runTarget, "target", "", "Only dispatch the record with this filename")
	runCmd.Flags().StringVar(&runApprovalMode, "approval-mode", "", "Approval handling: park or wait (default from config)")
	runCmd.Flags().DurationVar(&runApprovalTimeout, "approval-timeout", 0, "Approval timeout (default from config)")
	rootCmd.AddCommand(runCmd)

	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Report what would be created without writing anything")
	rootCmd.AddCommand(ingestCmd)

	scheduleCmd.Flags().BoolVar(&scheduleDryRun, "dry-run", false, "Report the dispatch order without changing anything")
	scheduleCmd.Flags().BoolVar(&scheduleForce, "force", false, "Bypass the approval gate for this cycle")
	scheduleCmd.Flags().StringVar(&scheduleTarget, "target", "", "Only dispatch the record with this filename")
	scheduleCmd.Flags().StringVar(&scheduleApprovalMode, "approval-mode", "", "Approval handling: park or wait (default from config)")
	scheduleCmd.Flags().DurationVar(&scheduleApprovalTimeout, "approval-timeout", 0, "Approval timeout (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}
