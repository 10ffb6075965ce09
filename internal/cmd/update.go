package cmd

import (
	"github.com/spf13/cobra"
)

var updateForce bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Regenerate the backend process manager configuration",
	Long: `Regenerate the backend's native configuration from the instance
configuration file. Required after any configuration change; a restart
alone does not pick up configuration-file edits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		return report(orch.Update(cmd.Context(), updateForce))
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "rewrite artifacts even when unchanged")
}
