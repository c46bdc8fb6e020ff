package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/formulary/pkg/formulary"
)

var planAll bool

var planCmd = &cobra.Command{
	Use:   "plan <name> [constraint]",
	Short: "Show the install plan for a formula",
	Long: `Resolves a formula's dependencies and prints the ordered install plan
without fetching or building anything. With --all, installed dependencies are
planned for rebuild instead of reused.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		constraint := ""
		if len(args) == 2 {
			constraint = args[1]
		}
		plan, err := client.Plan(cmd.Context(), args[0], constraint, planAll)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

func printPlan(plan *formulary.Plan) {
	fmt.Printf("%-4s %-24s %-14s %-14s %s\n", "#", "FORMULA", "VERSION", "INSTALLED", "ACTION")
	for i, s := range plan.Steps {
		current := s.Current
		if current == "" {
			current = "-"
		}
		fmt.Printf("%-4d %-24s %-14s %-14s %s\n", i+1, s.Record.Name, s.Record.Version, current, s.Action())
	}
	for _, s := range plan.Satisfied {
		detail("%s %s already installed", s.Name, s.Version)
	}
	info("%d to install, %d already satisfied.", len(plan.Steps), len(plan.Satisfied))
}

func init() {
	planCmd.Flags().BoolVar(&planAll, "all", false, "plan every dependency, ignoring installed versions")
	rootCmd.AddCommand(planCmd)
}
