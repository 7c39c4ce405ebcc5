package pipeline

import (
	"time"

	"github.com/roasbeef/councilreview/internal/decisionmaker"
	"github.com/roasbeef/councilreview/internal/scheduler"
)

// Status is the aggregate outcome of one review.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// ReviewRequest is the caller-supplied review parameters shared by all
// three entry points.
type ReviewRequest struct {
	// ID is the review id to run under. Empty means "generate a fresh
	// one", which is what every caller that doesn't need the id ahead
	// of time should leave it as.
	ID                string
	Code              string
	Checks            []string
	ExtraInstructions string
	Language          string
	RepoPath          string
	FilePaths         []string
}

// ReviewResult is the top-level outcome of one review run.
type ReviewResult struct {
	ID                string
	Status            Status
	IndividualReviews []scheduler.IndividualReview
	Decision          *decisionmaker.Decision
	ElapsedMs         int64
}

type timer struct {
	start time.Time
}

func startTimer() timer {
	return timer{start: time.Now()}
}

func (t timer) elapsedMs() int64 {
	return time.Since(t.start).Milliseconds()
}
