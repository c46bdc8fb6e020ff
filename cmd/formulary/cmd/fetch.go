package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bianoble/formulary/pkg/formulary"
)

var fetchAll bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <name> [constraint]",
	Short: "Download and verify source archives without installing",
	Long: `Resolves a formula's install plan, downloads every source archive in it
and verifies each against its declared checksum. Verified archives are stored
in the cache so a later install does not download them again.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		opts := formulary.InstallOptions{IgnoreInstalled: fetchAll}
		if len(args) == 2 {
			opts.Constraint = args[1]
		}
		result, err := client.Fetch(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		defer result.Cleanup()

		names := make([]string, 0, len(result.Artifacts))
		for n := range result.Artifacts {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			a := result.Artifacts[n]
			src := "downloaded"
			if a.FromCache {
				src = "cached"
			}
			info("  %s %s (%s, %s)", padState("ok", 12), n, humanSize(a.Size), src)
			detail("%s", a.Checksum)
		}
		for n, ferr := range result.Failed {
			errorf("%s: %v", n, ferr)
		}

		if len(result.Failed) > 0 {
			return fmt.Errorf("%d archive(s) could not be fetched", len(result.Failed))
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchAll, "all", false, "also fetch dependencies that are already installed")
	rootCmd.AddCommand(fetchCmd)
}
