package commands

import (
	"github.com/spf13/cobra"
)

var (
	// configPath is the path to the CouncilConfig JSON file.
	configPath string

	// cliPath overrides the default "claude" binary lookup used by the
	// claudesdk agent backend.
	cliPath string

	// outputFormat controls how review events are rendered: "text" or
	// "json".
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "councilctl",
	Short: "Council review orchestrator CLI",
	Long: `councilctl drives the council review engine directly from the
command line: it loads a CouncilConfig, fans a diff/file-set/codebase out
to a council of reviewer agents plus a decision maker, and streams
progress events to stdout as they arrive.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "review-council.config.json",
		"Path to the council config JSON file",
	)
	rootCmd.PersistentFlags().StringVar(
		&cliPath, "cli-path", "",
		"Override the reviewer/decision-maker CLI binary path",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Event output format: text, json",
	)

	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(codebaseCmd)
	rootCmd.AddCommand(validateConfigCmd)
}
