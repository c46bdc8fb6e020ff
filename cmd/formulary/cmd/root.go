package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bianoble/formulary/internal/build"
	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/metrics"
	"github.com/bianoble/formulary/pkg/formulary"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath  string
	verbose     bool
	quiet       bool
	noColor     bool
	metricsFile string
)

var rootCmd = &cobra.Command{
	Use:   "formulary",
	Short: "Build and install packages from formula records",
	Long: `formulary installs software described by formula records. It resolves
each formula's dependency graph, downloads and verifies every source archive
against its declared checksum, builds each formula in an isolated environment
into its own versioned prefix, and records what it installed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("formulary %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "formulary.yaml", "path to project config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output and debug logs")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. An interrupt cancels the running operation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if metricsFile != "" {
		if merr := metrics.WriteFile(metricsFile); merr != nil {
			errorf("writing metrics: %v", merr)
		}
	}
	if err != nil {
		errorf("%v", err)
		return err
	}
	return nil
}

// Exit codes by failure kind.
const (
	exitFailure   = 1
	exitNotFound  = 3
	exitResolve   = 4
	exitFetch     = 5
	exitIntegrity = 6
	exitBuild     = 7
	exitTimeout   = 8
	exitDependent = 9
	exitCanceled  = 130
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var de *formulary.DependentsError
	if errors.As(err, &de) {
		return exitDependent
	}
	if errors.Is(err, build.ErrNotInstalled) {
		return exitNotFound
	}
	switch errs.KindOf(err) {
	case "":
		return 0
	case errs.KindNotFound:
		return exitNotFound
	case errs.KindCycle, errs.KindConflict:
		return exitResolve
	case errs.KindFetch:
		return exitFetch
	case errs.KindIntegrity:
		return exitIntegrity
	case errs.KindBuild:
		return exitBuild
	case errs.KindTimeout:
		return exitTimeout
	case errs.KindCanceled:
		return exitCanceled
	}
	return exitFailure
}
