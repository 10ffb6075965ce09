package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvdbeek/gravity"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := stateDir
		if dir == "" {
			if configFile == "" {
				return fmt.Errorf("either --state-dir or --config-file is required")
			}
			cfg, err := gravity.LoadConfig(configFile)
			if err != nil {
				return err
			}
			dir = cfg.StateDir()
		}
		records, err := gravity.ListInstances(dir)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{rec.ConfigType, rec.InstanceName, rec.ConfigFile})
		}
		printTable(cmd.OutOrStdout(), []string{"TYPE", "INSTANCE NAME", "CONFIG PATH"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
