// Package main is the entry point for the taskdock CLI.
// The CLI is the developer terminal tool for running tasks on a remote
// compute session.
package main

import (
	"os"

	"taskdock/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
