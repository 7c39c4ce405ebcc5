// Package scheduler fans one prompt out to the council's reviewers with
// bounded concurrency, per-reviewer timeout, retry-with-backoff, and
// independent failure isolation: one reviewer's failure never aborts the
// others.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/config"
	"github.com/roasbeef/councilreview/internal/logging"
	"github.com/roasbeef/councilreview/internal/retrypolicy"
)

var log = logging.New("SCHD")

// MaxReviewerConcurrency bounds how many reviewer subprocesses run at
// once, within one chunk.
const MaxReviewerConcurrency = 5

// Status is an individual reviewer's outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IndividualReview is one reviewer's verdict and outcome.
type IndividualReview struct {
	Name      string
	Verdict   string
	Status    Status
	ElapsedMs int64
}

// ProgressSink receives per-reviewer lifecycle notifications as the
// scheduler runs, in addition to the streaming delta/tool-activity
// callbacks on agentruntime.EventSink.
type ProgressSink interface {
	agentruntime.EventSink
	OnReviewerSending(reviewerName string)
	OnReviewerDone(reviewerName string, elapsedMs int64)
	OnReviewerError(reviewerName string, elapsedMs int64, err error)
}

// NoopProgressSink discards all callbacks.
type NoopProgressSink struct {
	agentruntime.NoopSink
}

func (NoopProgressSink) OnReviewerSending(string)              {}
func (NoopProgressSink) OnReviewerDone(string, int64)          {}
func (NoopProgressSink) OnReviewerError(string, int64, error)  {}

// Scheduler drives the council fan-out over an agentruntime.Runtime.
type Scheduler struct {
	runtime *agentruntime.Runtime
}

// New constructs a Scheduler around the given Runtime.
func New(runtime *agentruntime.Runtime) *Scheduler {
	return &Scheduler{runtime: runtime}
}

// Runtime exposes the underlying Agent Runtime, so a single-shot caller
// (the decision maker stage) can spawn/prompt/stop a handle directly
// without going through the chunked council fan-out.
func (s *Scheduler) Runtime() *agentruntime.Runtime {
	return s.runtime
}

// Run dispatches prompt to every reviewer in specs, processing them in
// chunks of MaxReviewerConcurrency. Chunks run sequentially so the live
// subprocess ceiling never exceeds the chunk size; within a chunk,
// reviewers run concurrently.
func (s *Scheduler) Run(ctx context.Context, specs []config.ReviewerSpec, prompt string, isExploreNoInline bool, sink ProgressSink) []IndividualReview {
	if sink == nil {
		sink = NoopProgressSink{}
	}

	results := make([]IndividualReview, len(specs))

	for start := 0; start < len(specs); start += MaxReviewerConcurrency {
		end := start + MaxReviewerConcurrency
		if end > len(specs) {
			end = len(specs)
		}
		chunk := specs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for i, spec := range chunk {
			i, spec := start+i, spec
			g.Go(func() error {
				results[i] = s.runOne(gctx, spec, prompt, isExploreNoInline, sink)
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// runOne spawns a fresh handle, retries with backoff per spec's
// maxRetries, and always stops the (possibly replaced) handle before
// returning.
func (s *Scheduler) runOne(ctx context.Context, spec config.ReviewerSpec, prompt string, isExploreNoInline bool, sink ProgressSink) IndividualReview {
	sink.OnReviewerSending(spec.Name)
	start := time.Now()

	timeoutMs := spec.EffectiveTimeoutMs()
	if isExploreNoInline {
		timeoutMs *= 2
	}

	handle, err := s.runtime.Spawn(ctx, spec)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		sink.OnReviewerError(spec.Name, elapsed, err)
		return errorReview(spec.Name, elapsed)
	}

	opts := retrypolicy.Options{
		MaxRetries: spec.EffectiveMaxRetries(),
		Label:      spec.Name,
		OnRetry: func(ctx context.Context, attempt int) error {
			s.runtime.Stop(ctx, handle)

			newHandle, err := s.runtime.Spawn(ctx, spec)
			if err != nil {
				return err
			}
			handle = newHandle
			return nil
		},
	}

	text, err := retrypolicy.RetryWithBackoff(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return s.runtime.Prompt(ctx, handle, prompt, timeoutMs, sink)
	})

	s.runtime.Stop(ctx, handle)

	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		log.WarnS(ctx, "reviewer failed", "reviewer", spec.Name,
			"err", retrypolicy.SanitizeErrorMessage(err))
		sink.OnReviewerError(spec.Name, elapsed, err)
		return errorReview(spec.Name, elapsed)
	}

	sink.OnReviewerDone(spec.Name, elapsed)
	return IndividualReview{
		Name:      spec.Name,
		Verdict:   text,
		Status:    StatusSuccess,
		ElapsedMs: elapsed,
	}
}

func errorReview(name string, elapsedMs int64) IndividualReview {
	return IndividualReview{
		Name:      name,
		Verdict:   fmt.Sprintf("[error] Review generation failed for %s", name),
		Status:    StatusError,
		ElapsedMs: elapsedMs,
	}
}
