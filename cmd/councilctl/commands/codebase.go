package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roasbeef/councilreview/internal/pipeline"
)

var (
	codebaseDir        string
	codebaseExtensions []string
	codebaseChecks     []string
	codebaseExtra      string
)

var codebaseCmd = &cobra.Command{
	Use:   "codebase",
	Short: "Review an entire repository's tracked and untracked-not-ignored files",
	RunE:  runCodebase,
}

func init() {
	codebaseCmd.Flags().StringVar(&codebaseDir, "dir", ".", "Repository directory")
	codebaseCmd.Flags().StringSliceVar(&codebaseExtensions, "extensions", nil, "Extension whitelist override")
	codebaseCmd.Flags().StringSliceVar(&codebaseChecks, "checks", nil, "Check categories to focus on")
	codebaseCmd.Flags().StringVar(&codebaseExtra, "extra", "", "Extra instructions for reviewers")
}

func runCodebase(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc := buildService(cfg)

	ctx := context.Background()
	result, err := runAndStream(ctx, svc, func(ctx context.Context, reviewID string) (*pipeline.ReviewResult, error) {
		return svc.ReviewCodebase(ctx, reviewID, codebaseDir, codebaseExtensions, codebaseChecks, codebaseExtra)
	})
	if err != nil {
		return err
	}

	return outputResult(result)
}
