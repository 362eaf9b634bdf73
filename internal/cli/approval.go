package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
	"gopkg.in/yaml.v3"
)

// Gate is the approval gate. Set during application wiring.
var Gate core.ApprovalGate

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Request, list and decide human approvals",
}

var (
	approvalTitle       string
	approvalDescription string
	approvalDetails     string
	approvalTimeout     time.Duration
	approvalPriority    string
	approvalRequester   string
)

var approvalRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Create an approval request and wait for a decision",
	Long: `Write an approval request into Needs_Approval and block until a reviewer
fills in its decision slot, the timeout passes, or the command is interrupted.

Exit codes: 0 approved, 1 rejected, 2 timed out, 130 interrupted.

--details takes a JSON object; keys are listed in the order given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("approval gate not initialized")
		}
		if strings.TrimSpace(approvalTitle) == "" {
			return fmt.Errorf("--title is required")
		}
		details, err := parseDetails(approvalDetails)
		if err != nil {
			return err
		}
		requester := approvalRequester
		if requester == "" && Config != nil {
			requester = Config.Approval.Requester
		}

		req := &models.ApprovalRequest{
			Title:       approvalTitle,
			Description: approvalDescription,
			Details:     details,
			Requester:   requester,
			Priority:    models.ParsePriority(approvalPriority),
		}
		ctx := commandContext(cmd)
		decision, err := Gate.Request(ctx, req, approvalTimeout)
		switch {
		case errors.Is(err, core.ErrApprovalTimeout):
			fmt.Println(failStyle.Render("TIMEOUT") + " " + req.Filename())
			return &ExitError{Code: ExitFatal, Err: err}
		case err != nil:
			return interrupted(ctx, err)
		}

		switch decision {
		case models.DecisionApproved:
			fmt.Println(okStyle.Render("APPROVED") + " " + req.Filename())
			return nil
		default:
			fmt.Println(failStyle.Render("REJECTED") + " " + req.Filename())
			return &ExitError{Code: ExitFailures}
		}
	},
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records waiting for a decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("approval gate not initialized")
		}
		pending, err := Gate.Pending()
		if err != nil {
			return fmt.Errorf("listing approvals: %w", err)
		}
		var waiting []*models.TaskRecord
		for _, rec := range pending {
			if core.RecordDecision(rec) == models.DecisionNone {
				waiting = append(waiting, rec)
			}
		}
		if len(waiting) == 0 {
			fmt.Println("No records waiting for approval.")
			return nil
		}
		fmt.Printf("%-48s %-8s %s\n", "RECORD", "PRIORITY", "TIMES OUT")
		for _, rec := range waiting {
			fmt.Printf("%-48s %-8s %s\n", rec.Name, rec.Priority(), describeDeadline(rec.Header.Get(models.KeyTimeoutAt)))
		}
		return nil
	},
}

var approvalDecideNotes string

var approvalDecideCmd = &cobra.Command{
	Use:   "decide <record> <approve|reject>",
	Short: "Write a decision into a waiting record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("approval gate not initialized")
		}
		decision, err := parseDecision(args[1])
		if err != nil {
			return err
		}
		if err := Gate.Decide(args[0], decision, approvalDecideNotes); err != nil {
			return fmt.Errorf("deciding %s: %w", args[0], err)
		}
		fmt.Printf("Recorded %s for %s\n", decision, args[0])
		return nil
	},
}

var approvalSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve parked records that were decided or timed out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("approval gate not initialized")
		}
		ctx := commandContext(cmd)
		res, err := Gate.Sweep(ctx)
		if err != nil {
			return interrupted(ctx, fmt.Errorf("sweeping approvals: %w", err))
		}
		printNames("Approved", res.Approved, okStyle)
		printNames("Rejected", res.Rejected, failStyle)
		printNames("Timed out", res.TimedOut, failStyle)
		if len(res.Approved)+len(res.Rejected)+len(res.TimedOut) == 0 {
			fmt.Println("Nothing to resolve.")
		}
		return nil
	},
}

// parseDetails decodes a JSON object into detail items, keeping key order.
// Non-scalar values are rendered back as flow-style text.
func parseDetails(raw string) ([]models.DetailItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid --details: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("invalid --details: expected a JSON object")
	}
	m := doc.Content[0]
	items := make([]models.DetailItem, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		value := v.Value
		if v.Kind != yaml.ScalarNode {
			v.Style = yaml.FlowStyle
			out, err := yaml.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --details value for %q: %w", k.Value, err)
			}
			value = strings.TrimSpace(string(out))
		}
		items = append(items, models.DetailItem{Key: k.Value, Value: value})
	}
	return items, nil
}

func parseDecision(s string) (models.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return models.DecisionApproved, nil
	case "reject", "rejected":
		return models.DecisionRejected, nil
	default:
		return models.DecisionNone, fmt.Errorf("invalid decision %q: must be approve or reject", s)
	}
}

func describeDeadline(stamp string) string {
	t, ok := models.ParseTime(stamp)
	if !ok {
		return "-"
	}
	return humanize.Time(t)
}

func init() {
	approvalRequestCmd.Flags().StringVar(&approvalTitle, "title", "", "Request title (required)")
	approvalRequestCmd.Flags().StringVar(&approvalDescription, "description", "", "What is being approved")
	approvalRequestCmd.Flags().StringVar(&approvalDetails, "details", "", `Details as a JSON object, e.g. '{"amount":"$500"}'`)
	approvalRequestCmd.Flags().DurationVar(&approvalTimeout, "timeout", 0, "How long to wait for a decision (default from config)")
	approvalRequestCmd.Flags().StringVar(&approvalPriority, "priority", "medium", "Request priority: high, medium or low")
	approvalRequestCmd.Flags().StringVar(&approvalRequester, "requester", "", "Who is asking (default from config)")
	approvalCmd.AddCommand(approvalRequestCmd)

	approvalCmd.AddCommand(approvalListCmd)

	approvalDecideCmd.Flags().StringVar(&approvalDecideNotes, "notes", "", "Reviewer notes written below the decision")
	approvalCmd.AddCommand(approvalDecideCmd)

	approvalCmd.AddCommand(approvalSweepCmd)
	rootCmd.AddCommand(approvalCmd)
}
