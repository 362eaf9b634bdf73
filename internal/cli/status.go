package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Storage services. Set during application wiring.
var (
	Store    core.RecordStore
	Registry core.IngestRegistry
)

var statusFilter string

// statusFolders is the display order of the status summary.
var statusFolders = []models.Folder{
	models.FolderInbox,
	models.FolderNeedsAction,
	models.FolderActions,
	models.FolderNeedsApproval,
	models.FolderDone,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display folder counts and the dispatch queue",
	Long: `Display how many files each vault folder holds, the records queued for
dispatch in priority order, the registry size and the process holding the
lock, if any.

Use --filter to list the records with one status instead (e.g. --filter failed).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("record store not initialized")
		}

		if statusFilter != "" {
			return printStatusFilter(models.Status(strings.ToLower(statusFilter)))
		}

		fmt.Println(headerStyle.Render("Folders"))
		for _, f := range statusFolders {
			names, err := Store.Names(f)
			if err != nil {
				return fmt.Errorf("listing %s: %w", f, err)
			}
			fmt.Printf("  %-16s %d\n", f, len(names))
		}

		if Sched != nil {
			queue, err := Sched.Queue("")
			if err != nil {
				return fmt.Errorf("loading queue: %w", err)
			}
			fmt.Println()
			fmt.Println(headerStyle.Render(fmt.Sprintf("Queue (%d)", len(queue))))
			for i, rec := range queue {
				fmt.Printf("  %2d. %-40s %-6s %s\n", i+1, rec.Name, rec.Priority(), age(rec.CreatedAt()))
			}
		}

		fmt.Println()
		if Registry != nil {
			fmt.Printf("Registry entries: %d\n", Registry.Len())
		}
		if Lock != nil {
			if info, held := Lock.Holder(); held {
				fmt.Println(warnStyle.Render(fmt.Sprintf("Running: pid %d (%s) since %s", info.PID, info.Mode, info.StartedAt)))
			} else {
				fmt.Println(dimStyle.Render("Not running"))
			}
		}
		return nil
	},
}

func printStatusFilter(status models.Status) error {
	var matched []*models.TaskRecord
	for _, f := range models.LifecycleFolders {
		names, err := Store.Names(f)
		if err != nil {
			return fmt.Errorf("listing %s: %w", f, err)
		}
		for _, name := range names {
			rec, err := Store.Read(f, name)
			if err != nil {
				continue
			}
			if rec.Status() == status {
				matched = append(matched, rec)
			}
		}
	}
	if len(matched) == 0 {
		fmt.Printf("No records with status %s.\n", status)
		return nil
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%d)", strings.ToUpper(string(status)), len(matched))))
	for _, rec := range matched {
		line := fmt.Sprintf("  %-40s %-16s %-6s", rec.Name, rec.Folder, rec.Priority())
		if msg := rec.Header.Get(models.KeyErrorMessage); msg != "" {
			line += "  " + msg
		}
		fmt.Println(line)
	}
	return nil
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "Only list records with this status")
	rootCmd.AddCommand(statusCmd)
}
