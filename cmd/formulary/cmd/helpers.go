package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/bianoble/formulary/pkg/formulary"
)

// newLogger returns the structured logger for library components. Warnings
// are shown by default, everything with --verbose, errors only with --quiet.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient loads the config hierarchy and formulas and opens the ledger.
func newClient() (*formulary.Client, error) {
	client, err := formulary.New(formulary.Options{
		ConfigPath: configPath,
		Logger:     newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", configPath, err)
	}
	return client, nil
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	boldColor = color.New(color.Bold)
)

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{failColor.Sprint("error:")}, args...)...)
}

// stateColor colors a status or action word.
func stateColor(s string) string { return padState(s, 0) }

// padState pads s to width and then colors it, so a column stays aligned
// whether or not escape codes are emitted.
func padState(s string, width int) string {
	padded := fmt.Sprintf("%-*s", width, s)
	switch s {
	case "installed", "upgraded", "reinstalled", "up to date", "ok":
		return okColor.Sprint(padded)
	case "outdated", "unchanged", "skipped", "satisfied":
		return warnColor.Sprint(padded)
	case "failed", "orphaned", "missing", "changed", "modified":
		return failColor.Sprint(padded)
	}
	return padded
}
