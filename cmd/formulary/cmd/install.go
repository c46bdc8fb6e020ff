package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/formulary/pkg/formulary"
)

var (
	installReinstall     bool
	installRebuildDeps   bool
	installKeepOnFailure bool
	installDryRun        bool
)

var installCmd = &cobra.Command{
	Use:   "install <name> [constraint]",
	Short: "Install a formula and its dependencies",
	Long: `Resolves the dependency plan for a formula, downloads and verifies every
source archive, then builds and installs each formula in dependency order.
Dependencies that are already installed at an acceptable version are reused.

If one formula fails, formulas that depend on it are skipped while independent
ones still install; the command then exits non-zero.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		opts := formulary.InstallOptions{
			Reinstall:       installReinstall,
			IgnoreInstalled: installRebuildDeps,
			KeepOnFailure:   installKeepOnFailure,
			DryRun:          installDryRun,
		}
		if len(args) == 2 {
			opts.Constraint = args[1]
		}

		result, err := client.Install(cmd.Context(), args[0], opts)
		if result == nil {
			return err
		}
		detail("run %s", result.RunID)

		if installDryRun {
			info("Dry run: nothing fetched or installed.")
			printPlan(result.Plan)
			return err
		}

		for _, a := range result.Installed {
			if a.Previous != "" && a.Previous != a.Version {
				info("  %s %s %s -> %s", padState(a.Action, 12), a.Name, a.Previous, a.Version)
			} else {
				info("  %s %s %s", padState(a.Action, 12), a.Name, a.Version)
			}
			detail("prefix: %s (%d files)", a.Prefix, a.Paths)
		}
		for _, a := range result.Unchanged {
			detail("%s %s %s", padState("unchanged", 12), a.Name, a.Version)
		}
		for _, f := range result.Failed {
			errorf("%v", f)
			if f.Artifact != "" {
				detail("source archive kept at %s", f.Artifact)
			}
		}
		for _, s := range result.Skipped {
			info("  %s %s (%v)", padState("skipped", 12), s.Formula, s.Err)
		}

		info("")
		info("Install complete: %d installed, %d unchanged, %d failed, %d skipped.",
			len(result.Installed), len(result.Unchanged), len(result.Failed), len(result.Skipped))

		return err
	},
}

func init() {
	installCmd.Flags().BoolVar(&installReinstall, "reinstall", false, "rebuild the formula even if this version is installed")
	installCmd.Flags().BoolVar(&installRebuildDeps, "rebuild-deps", false, "rebuild dependencies instead of reusing installed ones")
	installCmd.Flags().BoolVar(&installKeepOnFailure, "keep-on-failure", false, "keep the working directory of a failed build")
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "show the plan without fetching or installing")
	rootCmd.AddCommand(installCmd)
}
