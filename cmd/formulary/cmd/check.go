package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [name...]",
	Short: "Verify that installed files are still present",
	Long: `Checks every file recorded for the named installed formulas (all of them
if none are named) and reports any that are missing or whose content no
longer matches the digest recorded at install time, plus formulas whose
archive checksum changed since they were installed.
Exit 0 if everything matches; exit non-zero on drift. Suitable for CI pipelines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Check(cmd.Context(), args)
		if err != nil {
			return err
		}

		if result.Clean {
			info("All %d formula(s) intact.", len(result.Checked))
			return nil
		}

		for _, m := range result.Missing {
			info("  %s %s: %s", padState("missing", 10), m.Formula, m.Path)
		}
		for _, m := range result.Modified {
			info("  %s %s: %s", padState("modified", 10), m.Formula, m.Path)
		}
		for _, n := range result.Changed {
			info("  %s %s: source checksum differs from the installed one", padState("changed", 10), n)
		}
		for _, n := range result.NotInstalled {
			info("  %s %s", boldColor.Sprintf("%-10s", "absent"), n)
		}

		return fmt.Errorf("check failed: %d missing file(s), %d modified, %d changed, %d not installed",
			len(result.Missing), len(result.Modified), len(result.Changed), len(result.NotInstalled))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
