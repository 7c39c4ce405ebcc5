package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roasbeef/councilreview/internal/pipeline"
)

var (
	diffRepoPath   string
	diffBaseBranch string
	diffChecks     []string
	diffExtra      string
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Review a git diff against a base branch",
	RunE:  runDiff,
}

func init() {
	diffCmd.Flags().StringVar(&diffRepoPath, "repo", ".", "Repository path")
	diffCmd.Flags().StringVar(&diffBaseBranch, "base", "main", "Base branch to diff against")
	diffCmd.Flags().StringSliceVar(&diffChecks, "checks", nil, "Check categories to focus on")
	diffCmd.Flags().StringVar(&diffExtra, "extra", "", "Extra instructions for reviewers")
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc := buildService(cfg)

	ctx := context.Background()
	result, err := runAndStream(ctx, svc, func(ctx context.Context, reviewID string) (*pipeline.ReviewResult, error) {
		return svc.ReviewDiff(ctx, reviewID, diffRepoPath, diffBaseBranch, diffChecks, diffExtra)
	})
	if err != nil {
		return err
	}

	return outputResult(result)
}
