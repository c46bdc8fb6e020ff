package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the formulary configuration",
	Long: `Displays the formulary version, the config chain, prefix, ledger and
cache locations, cache size, formula directories, and counts of available and
installed formulas.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Info(version)
		if err != nil {
			return err
		}

		boldColor.Printf("formulary %s\n", result.Version)
		if len(result.ConfigChain) > 0 {
			fmt.Println("  config chain:")
			for _, layer := range result.ConfigChain {
				status := "not found"
				if layer.Loaded {
					status = "loaded"
				}
				fmt.Printf("    %-10s %s (%s)\n", layer.Level+":", layer.Path, status)
			}
		}

		fmt.Printf("  prefix:        %s\n", result.PrefixRoot)
		fmt.Printf("  work dir:      %s\n", result.WorkDir)
		fmt.Printf("  ledger:        %s (%s)\n", result.LedgerPath, result.LedgerBackend)
		fmt.Printf("  cache dir:     %s\n", result.CacheDir)
		fmt.Printf("  cache size:    %s\n", humanSize(result.CacheSize))
		fmt.Printf("  formulas:      %d available, %d installed\n", result.Formulas, result.Installed)

		if len(result.FormulaDirs) > 0 {
			fmt.Println("\nFormula directories:")
			for _, d := range result.FormulaDirs {
				fmt.Printf("  %s\n", d)
			}
		}

		return nil
	},
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
