package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roasbeef/councilreview/internal/pipeline"
)

var (
	filesChecks []string
	filesExtra  string
)

var filesCmd = &cobra.Command{
	Use:   "files [path...]",
	Short: "Review an explicit list of files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFiles,
}

func init() {
	filesCmd.Flags().StringSliceVar(&filesChecks, "checks", nil, "Check categories to focus on")
	filesCmd.Flags().StringVar(&filesExtra, "extra", "", "Extra instructions for reviewers")
}

func runFiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc := buildService(cfg)

	ctx := context.Background()
	result, err := runAndStream(ctx, svc, func(ctx context.Context, reviewID string) (*pipeline.ReviewResult, error) {
		return svc.ReviewFiles(ctx, reviewID, args, filesChecks, filesExtra)
	})
	if err != nil {
		return err
	}

	return outputResult(result)
}
