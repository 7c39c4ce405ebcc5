// Package pipeline is the top-level Review Pipeline orchestrator: it
// chooses between diff / files / codebase flows and between inline /
// batch / explore execution modes, drives the Source Reader, the Council
// Scheduler, and the Decision Maker, aggregates partial failures, and
// emits events throughout via the Event Stream.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/config"
	"github.com/roasbeef/councilreview/internal/decisionmaker"
	"github.com/roasbeef/councilreview/internal/eventstream"
	"github.com/roasbeef/councilreview/internal/logging"
	"github.com/roasbeef/councilreview/internal/promptbuilder"
	"github.com/roasbeef/councilreview/internal/retrypolicy"
	"github.com/roasbeef/councilreview/internal/scheduler"
	"github.com/roasbeef/councilreview/internal/sourcereader"
)

var log = logging.New("PIPE")

// baseBranchPattern validates reviewDiff's baseBranch argument.
var baseBranchPattern = regexp.MustCompile(`^[A-Za-z0-9._\-/]+$`)

// Service wires the Source Reader, Council Scheduler, Decision Maker, and
// Event Stream bus together behind the three top-level entry points.
type Service struct {
	reader    sourcereader.Reader
	scheduler *scheduler.Scheduler
	bus       *eventstream.Bus
	config    config.CouncilConfig
}

// NewService constructs a Service. reader, sched, and bus are injected
// explicitly rather than through a DI container.
func NewService(reader sourcereader.Reader, sched *scheduler.Scheduler, bus *eventstream.Bus, cfg config.CouncilConfig) *Service {
	return &Service{reader: reader, scheduler: sched, bus: bus, config: cfg}
}

// sink adapts one review's eventstream.Stream into an
// agentruntime/scheduler progress sink.
type sink struct {
	stream *eventstream.Stream
}

func (s sink) OnDelta(reviewerName, delta string) {
	s.stream.Publish(eventstream.DeltaEvent{Reviewer: reviewerName, Content: delta})
}

func (s sink) OnToolActivity(reviewerName, toolName, toolLabel string) {
	s.stream.Publish(eventstream.ToolActivityEvent{
		Reviewer: reviewerName, ToolName: toolName, Args: toolLabel,
	})
}

func (s sink) OnReviewerSending(name string) {
	s.stream.Publish(eventstream.ProgressEvent{Reviewer: name, Status: eventstream.StatusSending})
}

func (s sink) OnReviewerDone(name string, elapsedMs int64) {
	s.stream.Publish(eventstream.ProgressEvent{
		Reviewer: name, Status: eventstream.StatusDone, DurationMs: elapsedMs,
	})
}

func (s sink) OnReviewerError(name string, elapsedMs int64, err error) {
	s.stream.Publish(eventstream.ProgressEvent{
		Reviewer: name, Status: eventstream.StatusError, DurationMs: elapsedMs,
		Error: err.Error(),
	})
}

// ReviewDiff validates baseBranch, obtains a diff against it (falling
// back to the staged diff), and runs the review. reviewID, if non-empty,
// pins the review to a caller-chosen id (e.g. one already handed back to
// an HTTP client and subscribed to on the event bus); empty means
// generate a fresh one.
func (sv *Service) ReviewDiff(ctx context.Context, reviewID, repoPath, baseBranch string, checks []string, extra string) (*ReviewResult, error) {
	if baseBranch != "" {
		if strings.HasPrefix(baseBranch, "-") || !baseBranchPattern.MatchString(baseBranch) {
			return nil, fmt.Errorf("invalid base branch: %q", baseBranch)
		}
	}

	diff, err := sv.reader.Diff(ctx, repoPath, baseBranch)
	if err != nil {
		return nil, err
	}

	mode := sv.config.EffectiveMode()
	req := ReviewRequest{ID: reviewID, Code: diff, Checks: checks, ExtraInstructions: extra, RepoPath: repoPath}

	if mode == config.ModeExplore {
		req.Code = ""
		req.FilePaths = nil
		return sv.runExplore(ctx, req, repoPath)
	}

	return sv.runInline(ctx, req)
}

// ReviewFiles reads (or, in explore mode, validates) the given paths and
// runs the review.
func (sv *Service) ReviewFiles(ctx context.Context, reviewID string, paths []string, checks []string, extra string) (*ReviewResult, error) {
	req := ReviewRequest{ID: reviewID, Checks: checks, ExtraInstructions: extra}

	if sv.config.EffectiveMode() == config.ModeExplore {
		root := repoRootOrCwd(ctx, sv.reader, ".")
		remaining := filterExplorablePaths(sv.reader, root, paths)
		if len(remaining) == 0 {
			return nil, fmt.Errorf("no explorable paths remain after filtering")
		}
		req.FilePaths = remaining
		return sv.runExplore(ctx, req, root)
	}

	files, err := sv.reader.ReadFiles(ctx, ".", paths)
	if err != nil {
		return nil, err
	}
	return sv.runBatched(ctx, req, files)
}

// ReviewCodebase enumerates dir's tracked+untracked files, filters them by
// extension and sensitivity, and runs the review.
func (sv *Service) ReviewCodebase(ctx context.Context, reviewID, dir string, extensions []string, checks []string, extra string) (*ReviewResult, error) {
	if len(extensions) == 0 {
		extensions = sv.config.EffectiveExtensions()
	}

	paths, err := sv.reader.ListRepoFiles(ctx, dir, extensions)
	if err != nil {
		return nil, err
	}

	req := ReviewRequest{ID: reviewID, Checks: checks, ExtraInstructions: extra, RepoPath: dir}

	if sv.config.EffectiveMode() == config.ModeExplore {
		req.FilePaths = paths
		return sv.runExplore(ctx, req, dir)
	}

	files, err := sv.reader.ReadFiles(ctx, dir, paths)
	if err != nil {
		return nil, err
	}
	return sv.runBatched(ctx, req, files)
}

// Bus exposes the underlying event bus so a caller can pre-register a
// review id (via Bus().Ensure) and subscribe before kicking off the
// (synchronous) review call in a goroutine.
func (sv *Service) Bus() *eventstream.Bus {
	return sv.bus
}

// filterExplorablePaths resolves each path's realpath, keeps only those
// contained in root (a relative-path containment test, never a string
// prefix comparison), drops sensitive files, and drops anything that
// cannot be resolved.
func filterExplorablePaths(reader sourcereader.Reader, root string, paths []string) []string {
	gitReader, hasSensitivityCheck := reader.(*sourcereader.GitReader)

	var out []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}

		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			continue
		}

		if !sourcereader.Contains(root, resolved) {
			continue
		}

		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		if hasSensitivityCheck && gitReader.IsSensitive(rel) {
			continue
		}

		out = append(out, rel)
	}
	return out
}

// repoRootOrCwd resolves the git top-level root of fallback, falling back
// to the process's working directory, then to fallback itself, if neither
// can be determined.
func repoRootOrCwd(ctx context.Context, reader sourcereader.Reader, fallback string) string {
	if top, err := reader.TopLevel(ctx, fallback); err == nil {
		return top
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return fallback
}

// runInline runs a single-pass inline-mode review: req.Code is the whole
// prompt payload, no batching.
func (sv *Service) runInline(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	files := []sourcereader.FileContent{{Path: "", Content: req.Code}}
	return sv.execute(ctx, req, [][]sourcereader.FileContent{files}, promptbuilder.RespInline, false)
}

// runBatched packs files into batches and runs inline/batch-labeled
// review across them.
func (sv *Service) runBatched(ctx context.Context, req ReviewRequest, files []sourcereader.FileContent) (*ReviewResult, error) {
	batches := Batch(files, DefaultMaxBatchSize)
	return sv.execute(ctx, req, batches, promptbuilder.RespBatch, false)
}

// runExplore runs explore-mode review: reviewers receive the file list
// and use their own tools; no inline code is sent.
func (sv *Service) runExplore(ctx context.Context, req ReviewRequest, repoRoot string) (*ReviewResult, error) {
	req.RepoPath = repoRoot
	return sv.execute(ctx, req, nil, promptbuilder.RespExplore, true)
}

// execute runs the shared inline/batch/explore review flow: build
// prompts, fan out through the scheduler per batch (bounded by
// BatchConcurrency), collect individual reviews, build the decision-maker
// prompt, parse its reply, and map the aggregate status.
func (sv *Service) execute(ctx context.Context, req ReviewRequest, batches [][]sourcereader.FileContent, responsibility promptbuilder.DecisionMakerResponsibility, explore bool) (*ReviewResult, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()[:8]
	}
	t := startTimer()

	stream := sv.bus.Ensure(id)
	defer stream.Close()

	var allReviews []scheduler.IndividualReview
	var fileSummaryParts []string

	isExploreNoInline := explore && req.Code == ""

	if explore {
		prompt := promptbuilder.BuildReviewerExplore(promptbuilder.ReviewerExploreParams{
			Paths: req.FilePaths, RepoRoot: req.RepoPath, Checks: req.Checks,
			ExtraInstructions: req.ExtraInstructions, Language: req.Language,
		})
		allReviews = sv.scheduler.Run(ctx, sv.config.Reviewers, prompt, isExploreNoInline, sink{stream})
		for _, p := range req.FilePaths {
			fileSummaryParts = append(fileSummaryParts, fmt.Sprintf("%s (unknown lines)", p))
		}
	} else {
		n := len(batches)
		results := make([][]scheduler.IndividualReview, n)
		summaries := make([][]string, n)
		sem := make(chan struct{}, BatchConcurrency)
		done := make(chan int, n)

		for k, batch := range batches {
			k, batch := k, batch
			sem <- struct{}{}
			go func() {
				defer func() { <-sem; done <- 1 }()

				extra := req.ExtraInstructions
				if n > 1 {
					extra = fmt.Sprintf("[Batch %d/%d] %s", k+1, n, extra)
				}

				code := batch[0].Content
				var batchSummary []string
				if len(batch) > 1 || batch[0].Path != "" {
					var b strings.Builder
					for _, f := range batch {
						if f.Path != "" {
							fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Path, f.Content)
							batchSummary = append(batchSummary,
								fmt.Sprintf("%s (%d lines)", f.Path, strings.Count(f.Content, "\n")+1))
						}
					}
					if b.Len() > 0 {
						code = b.String()
					}
				}
				summaries[k] = batchSummary

				prompt := promptbuilder.BuildReviewerInline(promptbuilder.ReviewerInlineParams{
					Code: code, Checks: req.Checks, ExtraInstructions: extra, Language: req.Language,
				})
				results[k] = sv.scheduler.Run(ctx, sv.config.Reviewers, prompt, false, sink{stream})
			}()
		}
		for i := 0; i < n; i++ {
			<-done
		}
		for _, r := range results {
			allReviews = append(allReviews, r...)
		}
		for _, s := range summaries {
			fileSummaryParts = append(fileSummaryParts, s...)
		}
	}

	anyReviewerErred := false
	allReviewersErred := len(allReviews) > 0
	for _, r := range allReviews {
		if r.Status == scheduler.StatusError {
			anyReviewerErred = true
		} else {
			allReviewersErred = false
		}
	}

	result := &ReviewResult{ID: id, IndividualReviews: allReviews}

	if allReviewersErred {
		result.Status = StatusFailed
		result.ElapsedMs = t.elapsedMs()
		stream.Publish(eventstream.ResultEvent{Result: result})
		return result, nil
	}

	decision, dmErr := sv.runDecisionMaker(ctx, req, allReviews, fileSummaryParts, responsibility)
	if dmErr != nil {
		log.WarnS(ctx, "decision maker failed", "err", dmErr)
		result.Status = StatusPartial
		result.ElapsedMs = t.elapsedMs()
		stream.Publish(eventstream.ResultEvent{Result: result})
		return result, nil
	}

	result.Decision = decision
	if anyReviewerErred {
		result.Status = StatusPartial
	} else {
		result.Status = StatusCompleted
	}
	result.ElapsedMs = t.elapsedMs()

	stream.Publish(eventstream.ResultEvent{Result: result})
	return result, nil
}

// runDecisionMaker spawns the decision-maker reviewer, retries with backoff
// (respawning on each retry) up to its configured maxRetries, and parses
// its reply. A spawn/prompt error surviving all retries downgrades the
// overall status to partial; a parse failure inside Parse does not (it
// degrades to a PARSE_FAILED decision, which still counts as a DM
// success).
func (sv *Service) runDecisionMaker(ctx context.Context, req ReviewRequest, reviews []scheduler.IndividualReview, fileSummary []string, responsibility promptbuilder.DecisionMakerResponsibility) (*decisionmaker.Decision, error) {
	var reviewerOutputs []promptbuilder.ReviewerOutput
	for _, r := range reviews {
		reviewerOutputs = append(reviewerOutputs, promptbuilder.ReviewerOutput{Name: r.Name, Review: r.Verdict})
	}

	prompt := promptbuilder.BuildDecisionMaker(promptbuilder.DecisionMakerParams{
		Responsibility: responsibility,
		Code:           req.Code,
		FileSummary:    strings.Join(fileSummary, "\n"),
		Reviews:        reviewerOutputs,
		Checks:         req.Checks,
		Language:       req.Language,
		Caps:           sv.config.LengthCaps,
	})

	dmSpec := sv.config.DecisionMaker
	timeoutMs := dmSpec.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 300_000
	}

	runtime := sv.scheduler.Runtime()

	handle, err := runtime.Spawn(ctx, dmSpec)
	if err != nil {
		return nil, err
	}

	opts := retrypolicy.Options{
		MaxRetries: dmSpec.EffectiveMaxRetries(),
		Label:      dmSpec.Name,
		OnRetry: func(ctx context.Context, attempt int) error {
			runtime.Stop(ctx, handle)

			newHandle, err := runtime.Spawn(ctx, dmSpec)
			if err != nil {
				return err
			}
			handle = newHandle
			return nil
		},
	}

	text, err := retrypolicy.RetryWithBackoff(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return runtime.Prompt(ctx, handle, prompt, timeoutMs, agentruntime.NoopSink{})
	})

	runtime.Stop(ctx, handle)

	if err != nil {
		return nil, err
	}

	decision := decisionmaker.Parse(dmSpec.Name, text)
	return &decision, nil
}
