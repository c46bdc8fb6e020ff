package main

import (
	"os"

	"github.com/bianoble/formulary/cmd/formulary/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
