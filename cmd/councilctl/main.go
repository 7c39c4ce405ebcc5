// Command councilctl is the thin CLI front door around the council review
// engine: it loads a CouncilConfig, drives the review pipeline for the
// diff/files/codebase entry points, and renders the event stream to
// stdout as the review runs.
package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/councilreview/cmd/councilctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
