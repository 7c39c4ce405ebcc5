package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/config"
)

// scriptedSession always returns the reviewer's canned verdict as a single
// assistant.message event. Reviewer failures are scripted on the backend,
// whose Connect errors for names listed in fails.
type scriptedSession struct {
	events chan agentruntime.SessionEvent
}

func newScriptedSession(ev agentruntime.SessionEvent) *scriptedSession {
	ch := make(chan agentruntime.SessionEvent, 1)
	ch <- ev
	close(ch)
	return &scriptedSession{events: ch}
}

func (s *scriptedSession) Send(ctx context.Context, prompt string) error { return nil }
func (s *scriptedSession) Events() <-chan agentruntime.SessionEvent      { return s.events }
func (s *scriptedSession) Stop(ctx context.Context) error                { return nil }
func (s *scriptedSession) Kill() error                                   { return nil }

// scriptedBackend hands back one scripted session per reviewer name, and
// counts how many times Connect was called per reviewer.
type scriptedBackend struct {
	mu       sync.Mutex
	verdicts map[string]string
	fails    map[string]bool
	calls    map[string]int
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		verdicts: make(map[string]string),
		fails:    make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (b *scriptedBackend) Connect(ctx context.Context, spec config.ReviewerSpec) (agentruntime.Session, error) {
	b.mu.Lock()
	b.calls[spec.Name]++
	fail := b.fails[spec.Name]
	b.mu.Unlock()

	if fail {
		return nil, errors.New("connect failed")
	}

	verdict := b.verdicts[spec.Name]
	return newScriptedSession(agentruntime.SessionEvent{
		Kind:    agentruntime.EventMessage,
		Content: verdict,
	}), nil
}

func (b *scriptedBackend) callCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func reviewerSpec(name string) config.ReviewerSpec {
	return config.ReviewerSpec{Name: name, Command: "claude", TimeoutMs: 2000}
}

func TestRun_AllReviewersSucceedIndependently(t *testing.T) {
	backend := newScriptedBackend()
	backend.verdicts["a"] = "looks good"
	backend.verdicts["b"] = "minor nit"

	sched := New(agentruntime.New(backend))
	results := sched.Run(context.Background(), []config.ReviewerSpec{
		reviewerSpec("a"), reviewerSpec("b"),
	}, "review this diff", false, nil)

	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Name)
	require.Equal(t, StatusSuccess, results[0].Status)
	require.Equal(t, "looks good", results[0].Verdict)
	require.Equal(t, "b", results[1].Name)
	require.Equal(t, StatusSuccess, results[1].Status)
	require.Equal(t, "minor nit", results[1].Verdict)
}

func TestRun_OneReviewerFailureDoesNotAbortOthers(t *testing.T) {
	backend := newScriptedBackend()
	backend.fails["broken"] = true
	backend.verdicts["fine"] = "all good"

	sched := New(agentruntime.New(backend))
	results := sched.Run(context.Background(), []config.ReviewerSpec{
		reviewerSpec("broken"), reviewerSpec("fine"),
	}, "prompt", false, nil)

	require.Len(t, results, 2)
	require.Equal(t, StatusError, results[0].Status)
	require.Contains(t, results[0].Verdict, "[error] Review generation failed for broken")
	require.Equal(t, StatusSuccess, results[1].Status)
	require.Equal(t, "all good", results[1].Verdict)
}

func TestRun_ChunksAtMaxReviewerConcurrency(t *testing.T) {
	backend := newScriptedBackend()
	specs := make([]config.ReviewerSpec, MaxReviewerConcurrency+2)
	for i := range specs {
		name := string(rune('a' + i))
		backend.verdicts[name] = "ok"
		specs[i] = reviewerSpec(name)
	}

	sched := New(agentruntime.New(backend))
	results := sched.Run(context.Background(), specs, "prompt", false, nil)

	require.Len(t, results, len(specs))
	for _, r := range results {
		require.Equal(t, StatusSuccess, r.Status)
	}
}

func TestRun_UnsafeCommandSurfacesAsErrorReviewNotPanic(t *testing.T) {
	backend := newScriptedBackend()

	sched := New(agentruntime.New(backend))
	results := sched.Run(context.Background(), []config.ReviewerSpec{
		{Name: "evil", Command: "../bin/evil"},
	}, "prompt", false, nil)

	require.Len(t, results, 1)
	require.Equal(t, StatusError, results[0].Status)
}

// countingSink records the lifecycle calls the scheduler makes, confirming
// the ProgressSink contract is driven correctly end to end.
type countingSink struct {
	agentruntime.NoopSink
	sends  int32
	dones  int32
	errs   int32
}

func (c *countingSink) OnReviewerSending(string)           { atomic.AddInt32(&c.sends, 1) }
func (c *countingSink) OnReviewerDone(string, int64)       { atomic.AddInt32(&c.dones, 1) }
func (c *countingSink) OnReviewerError(string, int64, error) { atomic.AddInt32(&c.errs, 1) }

func TestRun_DrivesProgressSinkLifecycle(t *testing.T) {
	backend := newScriptedBackend()
	backend.verdicts["a"] = "ok"
	backend.fails["b"] = true

	sched := New(agentruntime.New(backend))
	sink := &countingSink{}
	sched.Run(context.Background(), []config.ReviewerSpec{
		reviewerSpec("a"), reviewerSpec("b"),
	}, "prompt", false, sink)

	require.EqualValues(t, 2, sink.sends)
	require.EqualValues(t, 1, sink.dones)
	require.EqualValues(t, 1, sink.errs)
}
