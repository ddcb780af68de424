// Package main is the entry point for the trailimport CLI.
package main

import (
	"os"

	"github.com/trailhead/trailimport/cmd/trailimport/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
