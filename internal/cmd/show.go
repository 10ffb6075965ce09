package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		resolved, err := orch.Show()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), resolved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
