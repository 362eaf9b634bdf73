package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Application context. Set during application wiring.
var (
	VaultInit core.VaultInitializer
	BasePath  string
	Config    *models.Config
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault folders, configuration and dashboard",
	Long: `Lay out a vault under the base directory: the Inbox, Needs_Action,
Needs_Approval, Done, Actions and Logs folders, a .vaultq.yaml with the
current settings and a Dashboard.md.

Existing files are left untouched, so init is safe to re-run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if VaultInit == nil {
			return fmt.Errorf("vault initializer not initialized")
		}
		result, err := VaultInit.Init(core.InitConfig{BasePath: BasePath, Config: Config})
		if err != nil {
			return err
		}
		for _, p := range result.Created {
			fmt.Printf("  created  %s\n", p)
		}
		for _, p := range result.Skipped {
			fmt.Println(dimStyle.Render("  exists   " + p))
		}
		fmt.Printf("Vault ready at %s\n", BasePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
