package agentruntime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/councilreview/internal/config"
)

// fakeSession is an in-memory Session double: queued events are delivered
// as soon as Send is called, with no subprocess involved.
type fakeSession struct {
	events     chan SessionEvent
	sendErr    error
	stopErr    error
	killErr    error
	stopCalled bool
	killCalled bool
}

func newFakeSession(evs ...SessionEvent) *fakeSession {
	ch := make(chan SessionEvent, len(evs)+1)
	for _, e := range evs {
		ch <- e
	}
	close(ch)
	return &fakeSession{events: ch}
}

func (f *fakeSession) Send(ctx context.Context, prompt string) error { return f.sendErr }
func (f *fakeSession) Events() <-chan SessionEvent                   { return f.events }
func (f *fakeSession) Stop(ctx context.Context) error {
	f.stopCalled = true
	return f.stopErr
}
func (f *fakeSession) Kill() error {
	f.killCalled = true
	return f.killErr
}

// fakeBackend hands out a pre-built session, recording the spec it was
// asked to connect.
type fakeBackend struct {
	session  Session
	connErr  error
	lastSpec config.ReviewerSpec
}

func (f *fakeBackend) Connect(ctx context.Context, spec config.ReviewerSpec) (Session, error) {
	f.lastSpec = spec
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.session, nil
}

func validSpec(name string) config.ReviewerSpec {
	return config.ReviewerSpec{Name: name, Command: "claude", TimeoutMs: 5000}
}

func TestSpawn_RejectsUnsafeCommand(t *testing.T) {
	rt := New(&fakeBackend{session: newFakeSession()})
	spec := config.ReviewerSpec{Name: "evil", Command: "../bin/evil"}

	_, err := rt.Spawn(context.Background(), spec)
	require.ErrorIs(t, err, ErrUnsafeCommand)
	require.Contains(t, err.Error(), "../bin/evil")
}

func TestSpawn_RejectsAfterShutdown(t *testing.T) {
	rt := New(&fakeBackend{session: newFakeSession()})
	rt.Shutdown(context.Background())

	_, err := rt.Spawn(context.Background(), validSpec("reviewerA"))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestSpawn_AssignsIncrementingIDs(t *testing.T) {
	rt := New(&fakeBackend{session: newFakeSession()})

	h1, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)
	h2, err := rt.Spawn(context.Background(), validSpec("b"))
	require.NoError(t, err)

	require.NotEqual(t, h1.ID, h2.ID)
}

func TestPrompt_DeltaAccumulatorWinsOverFinalMessage(t *testing.T) {
	session := newFakeSession(
		SessionEvent{Kind: EventMessageDelta, DeltaContent: "hello "},
		SessionEvent{Kind: EventMessageDelta, DeltaContent: "world"},
		SessionEvent{Kind: EventMessage, Content: "a completely different final reply"},
	)
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	result, err := rt.Prompt(context.Background(), h, "review this", 1000, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", result)
}

func TestPrompt_FallsBackToFinalMessageWithoutDeltas(t *testing.T) {
	session := newFakeSession(
		SessionEvent{Kind: EventMessage, Content: "only the final reply"},
	)
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	result, err := rt.Prompt(context.Background(), h, "review this", 1000, nil)
	require.NoError(t, err)
	require.Equal(t, "only the final reply", result)
}

func TestPrompt_StopsOnIdleEvent(t *testing.T) {
	session := newFakeSession(
		SessionEvent{Kind: EventMessageDelta, DeltaContent: "partial"},
		SessionEvent{Kind: EventIdle},
	)
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	result, err := rt.Prompt(context.Background(), h, "x", 1000, nil)
	require.NoError(t, err)
	require.Equal(t, "partial", result)
}

func TestPrompt_PropagatesSessionError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	session := newFakeSession(SessionEvent{Kind: EventError, Err: wantErr})
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	_, err = rt.Prompt(context.Background(), h, "x", 1000, nil)
	require.ErrorIs(t, err, wantErr)
}

func TestPrompt_InvokesEventSink(t *testing.T) {
	session := newFakeSession(
		SessionEvent{Kind: EventMessageDelta, DeltaContent: "d1"},
		SessionEvent{Kind: EventToolActivity, ToolName: "grep", ToolLabel: "main.go"},
		SessionEvent{Kind: EventIdle},
	)
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("reviewerA"))
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = rt.Prompt(context.Background(), h, "x", 1000, sink)
	require.NoError(t, err)

	require.Equal(t, []string{"reviewerA:d1"}, sink.deltas)
	require.Equal(t, []string{"reviewerA:grep:main.go"}, sink.tools)
}

func TestPrompt_TimesOutWhenNoEventsArrive(t *testing.T) {
	ch := make(chan SessionEvent) // never closed, never sent on
	session := &fakeSession{events: ch}
	rt := New(&fakeBackend{session: session})
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	_, err = rt.Prompt(context.Background(), h, "x", 20, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestStop_ForcesKillOnGracefulTimeout(t *testing.T) {
	session := &fakeSession{events: closedEmptyChan()}
	blocked := make(chan struct{})

	slowSession := &slowStopSession{fakeSession: session, unblock: blocked}

	rt := New(&fakeBackend{session: slowSession})
	rt.StopGracePeriod = 20 * time.Millisecond
	h, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rt.Stop(context.Background(), h)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the graceful stop timeout elapsed")
	}
	close(blocked)

	require.True(t, slowSession.killCalled)
}

type slowStopSession struct {
	*fakeSession
	unblock chan struct{}
}

func (s *slowStopSession) Stop(ctx context.Context) error {
	<-s.unblock
	return nil
}

func closedEmptyChan() chan SessionEvent {
	ch := make(chan SessionEvent)
	close(ch)
	return ch
}

func TestShutdown_StopsAllHandlesConcurrently(t *testing.T) {
	s1 := newFakeSession()
	s2 := newFakeSession()

	multi := &multiSessionBackend{sessions: []Session{s1, s2}}
	rt := New(multi)
	_, err := rt.Spawn(context.Background(), validSpec("a"))
	require.NoError(t, err)
	_, err = rt.Spawn(context.Background(), validSpec("b"))
	require.NoError(t, err)

	rt.Shutdown(context.Background())

	require.True(t, s1.stopCalled)
	require.True(t, s2.stopCalled)

	_, err = rt.Spawn(context.Background(), validSpec("c"))
	require.ErrorIs(t, err, ErrShuttingDown)
}

type multiSessionBackend struct {
	sessions []Session
	idx      int
}

func (m *multiSessionBackend) Connect(ctx context.Context, spec config.ReviewerSpec) (Session, error) {
	s := m.sessions[m.idx]
	m.idx++
	return s, nil
}

type recordingSink struct {
	deltas []string
	tools  []string
}

func (r *recordingSink) OnDelta(name, delta string) {
	r.deltas = append(r.deltas, name+":"+delta)
}

func (r *recordingSink) OnToolActivity(name, tool, label string) {
	r.tools = append(r.tools, name+":"+tool+":"+label)
}

func TestRedactArgs_MasksFlagValuePairs(t *testing.T) {
	in := []string{"--api-key", "sk-abcdef1234567890", "--model", "opus"}
	out := RedactArgs(in)

	require.Equal(t, "--api-key", out[0])
	require.Equal(t, "[REDACTED]", out[1])
	require.Equal(t, "--model", out[2])
	require.Equal(t, "opus", out[3])

	for _, v := range out {
		require.NotContains(t, v, "sk-abcdef1234567890")
	}
}

func TestRedactArgs_MasksFlagEqualsForm(t *testing.T) {
	out := RedactArgs([]string{"--token=ghp_abcdef1234567890"})
	require.Equal(t, "--token=[REDACTED]", out[0])
}

func TestRedactArgs_MasksKnownSecretPrefixStandalone(t *testing.T) {
	out := RedactArgs([]string{"sk-abcdef1234567890abcd"})
	require.Equal(t, "[REDACTED]", out[0])
}

func TestRedactArgs_TruncatesOverlongValues(t *testing.T) {
	long := strings.Repeat("x", 250)
	out := RedactArgs([]string{long})
	require.Contains(t, out[0], "[REDACTED:250]")
	require.NotContains(t, out[0], long)
}

func TestRedactArgs_LeavesOrdinaryArgsAlone(t *testing.T) {
	out := RedactArgs([]string{"--model", "opus", "review.go"})
	require.Equal(t, []string{"--model", "opus", "review.go"}, out)
}
