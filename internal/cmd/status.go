package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the state and readiness of each service",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := loadOrchestrator()
		if err != nil {
			return err
		}
		rows, err := orch.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := make([][]string, 0, len(rows))
		for _, row := range rows {
			pid := ""
			if row.PID > 0 {
				pid = strconv.Itoa(row.PID)
			}
			ready := "no"
			if row.Ready {
				ready = "yes"
			}
			out = append(out, []string{row.Name, row.State, pid, ready})
		}
		printTable(cmd.OutOrStdout(), []string{"SERVICE", "STATE", "PID", "READY"}, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
