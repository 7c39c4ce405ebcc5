package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roasbeef/councilreview/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate a council config file's shape",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Printf("invalid: %s\n", err)
		return err
	}

	if err := validateShape(cfg); err != nil {
		fmt.Printf("invalid: %s\n", err)
		return err
	}

	fmt.Println("valid")
	return nil
}

// validateShape runs the minimal shape check the config-validate
// endpoint performs: every reviewer and the
// decision maker must carry a safe command, and any configured default
// check category must be one of the fixed six.
func validateShape(cfg config.CouncilConfig) error {
	if len(cfg.Reviewers) == 0 {
		return fmt.Errorf("council config must list at least one reviewer")
	}

	for _, r := range cfg.Reviewers {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reviewer %q: %w", r.Name, err)
		}
	}

	if err := cfg.DecisionMaker.Validate(); err != nil {
		return fmt.Errorf("decision maker: %w", err)
	}

	for _, c := range cfg.DefaultChecks {
		if !config.AllCheckCategories[c] {
			return fmt.Errorf("unknown default check category: %q", c)
		}
	}

	return nil
}
