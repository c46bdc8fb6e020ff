package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listAvailable bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed formulas",
	Long:  `Lists every installed formula with its version and install time. With --available, lists the formulas that can be installed instead.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if listAvailable {
			formulas := client.Formulas()
			if len(formulas) == 0 {
				info("No formulas found.")
				return nil
			}
			fmt.Printf("%-24s %-14s %s\n", "FORMULA", "VERSION", "HOMEPAGE")
			for _, f := range formulas {
				fmt.Printf("%-24s %-14s %s\n", f.Name, f.Version, f.Homepage)
			}
			return nil
		}

		recs, err := client.List()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			info("No formulas installed.")
			return nil
		}

		fmt.Printf("%-24s %-14s %-8s %s\n", "FORMULA", "VERSION", "FILES", "INSTALLED")
		for _, r := range recs {
			fmt.Printf("%-24s %-14s %-8d %s\n", r.Name, r.Version, len(r.Paths), r.InstalledAt.Local().Format("2006-01-02 15:04"))
			detail("prefix: %s", r.Prefix)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAvailable, "available", false, "list installable formulas instead")
	rootCmd.AddCommand(listCmd)
}
