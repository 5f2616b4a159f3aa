// Package main provides the entry point for the rmplan-state CLI.
package main

import (
	"os"

	"github.com/dimfeld/rmplan/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
