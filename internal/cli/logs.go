package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/observability"
)

// ActivityLog is the live activity log of this process. Set during
// application wiring.
var ActivityLog *observability.RotatingFile

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage the vault log files",
}

var logsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Archive log files over the size threshold",
	Long: `Archive every *.log file in the vault Logs folder that is larger than
logs.max_bytes. Each archive is named <name>_<timestamp>.log and the live
file is recreated empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}
		dir := filepath.Join(BasePath, Config.VaultRoot, Config.Folders.Logs)
		paths, err := filepath.Glob(filepath.Join(dir, "*.log"))
		if err != nil {
			return fmt.Errorf("listing logs: %w", err)
		}

		rotated := 0
		for _, path := range paths {
			archive, err := rotateLog(path, Config.Logs.MaxBytes)
			if err != nil {
				return err
			}
			if archive == "" {
				continue
			}
			rotated++
			var size int64
			if info, err := os.Stat(archive); err == nil {
				size = info.Size()
			}
			fmt.Println(observability.DescribeRotation(archive, size))
		}
		if rotated == 0 {
			fmt.Println("No logs over the threshold.")
		}
		return nil
	},
}

// rotateLog archives path, going through this process's own writer when the
// file is the live activity log.
func rotateLog(path string, maxBytes int64) (string, error) {
	if ActivityLog != nil && filepath.Clean(ActivityLog.Path()) == filepath.Clean(path) {
		return ActivityLog.RotateIfNeeded()
	}
	return observability.RotateFile(path, maxBytes, time.Now())
}

func init() {
	logsCmd.AddCommand(logsRotateCmd)
	rootCmd.AddCommand(logsCmd)
}
