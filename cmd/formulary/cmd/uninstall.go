package cmd

import (
	"github.com/spf13/cobra"
)

var uninstallForce bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Remove an installed formula",
	Long: `Removes every file the formula installed and its installation record.
Refuses while other installed formulas depend on it unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Uninstall(cmd.Context(), args[0], uninstallForce)
		if err != nil {
			return err
		}
		info("Removed %s %s (%d files).", result.Name, result.Version, result.Removed)
		return nil
	},
}

func init() {
	uninstallCmd.Flags().BoolVar(&uninstallForce, "force", false, "remove even if installed formulas depend on it")
	rootCmd.AddCommand(uninstallCmd)
}
