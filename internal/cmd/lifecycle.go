package cmd

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the instance's services and wait for readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		return report(orch.Start(cmd.Context()))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the instance's services",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		return report(orch.Stop(cmd.Context()))
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the instance's services, updating first if configuration changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		return report(orch.Restart(cmd.Context()))
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}
