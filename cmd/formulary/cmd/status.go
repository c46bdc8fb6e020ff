package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare installed formulas with available versions",
	Long: `Shows each installed formula's version next to the version currently
available, and whether it is up to date, outdated, or orphaned (no longer
provided by any formula directory).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		statuses, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			info("No formulas installed.")
			return nil
		}

		fmt.Printf("%-24s %-14s %-14s %s\n", "FORMULA", "INSTALLED", "AVAILABLE", "STATE")
		for _, s := range statuses {
			avail := s.Available
			if avail == "" {
				avail = "-"
			}
			fmt.Printf("%-24s %-14s %-14s %s\n", s.Name, s.Installed, avail, stateColor(s.State))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
