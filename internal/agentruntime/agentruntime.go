// Package agentruntime spawns, talks to, and tears down agent subprocesses
// over a small abstract streaming session protocol. It owns each live
// handle for the duration of its subprocess and guarantees the subprocess
// is torn down on every exit path: success, error, timeout, or
// cancellation.
package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/councilreview/internal/config"
	"github.com/roasbeef/councilreview/internal/logging"
)

var log = logging.New("AGRT")

// ErrShuttingDown is returned by Spawn once Shutdown has been called.
var ErrShuttingDown = errors.New("agent runtime is shutting down")

// ErrUnsafeCommand is returned by Spawn for a ReviewerSpec whose command
// fails the basename validation.
var ErrUnsafeCommand = errors.New("unsafe command rejected")

// EventKind tags a SessionEvent.
type EventKind int

const (
	EventMessageDelta EventKind = iota
	EventMessage
	EventToolActivity
	EventIdle
	EventError
)

// SessionEvent is one event off an agent session's stream, per the agent
// session protocol (assistant.message_delta, assistant.message, tool.*,
// session.idle, session.error / generic error).
type SessionEvent struct {
	Kind EventKind

	// DeltaContent is set for EventMessageDelta.
	DeltaContent string

	// Content is set for EventMessage (the non-streamed final reply).
	Content string

	// ToolName and ToolLabel are set for EventToolActivity. ToolLabel is
	// the first of {file_path, path, filePath, command} found on the
	// tool call, if any.
	ToolName  string
	ToolLabel string

	// Err is set for EventError.
	Err error
}

// Session is the abstract streaming request/response protocol a backend
// must implement. One Session corresponds to one live subprocess.
type Session interface {
	// Send delivers a prompt to the session.
	Send(ctx context.Context, prompt string) error

	// Events returns the channel of SessionEvents for this session. The
	// channel is closed once the session reaches a terminal event.
	Events() <-chan SessionEvent

	// Stop attempts a graceful shutdown of the underlying subprocess.
	Stop(ctx context.Context) error

	// Kill forcefully terminates the underlying subprocess.
	Kill() error
}

// Backend constructs a new Session for a given ReviewerSpec. Each backend
// encapsulates one concrete agent-vendor wire format.
type Backend interface {
	// Connect resolves the spec's command against PATH, starts the
	// subprocess, and establishes a streaming session on it.
	Connect(ctx context.Context, spec config.ReviewerSpec) (Session, error)
}

// Handle is an opaque reference to one live agent session, carrying just
// enough identity for logging and lifecycle management.
type Handle struct {
	ID      string
	Name    string
	Model   string
	session Session
}

// EventSink receives streaming callbacks while a prompt is in flight. This
// replaces the source's long optional-callback-parameter tails
// (onDelta/onToolActivity/...) with a single sink interface.
type EventSink interface {
	OnDelta(reviewerName, delta string)
	OnToolActivity(reviewerName, toolName, toolLabel string)
}

// NoopSink discards all callbacks.
type NoopSink struct{}

func (NoopSink) OnDelta(string, string)                {}
func (NoopSink) OnToolActivity(string, string, string) {}

// DefaultStopGracePeriod is how long Stop waits for a graceful session
// shutdown before forcefully killing it.
const DefaultStopGracePeriod = 5 * time.Second

// Runtime owns the set of live handles for one process and enforces the
// spawn/prompt/stop/shutdown contract.
type Runtime struct {
	backend Backend

	// StopGracePeriod overrides DefaultStopGracePeriod. Left zero in
	// production; tests shrink it so Stop's forceful-kill path doesn't
	// dominate wall clock time.
	StopGracePeriod time.Duration

	mu          sync.Mutex
	handles     map[string]*Handle
	shuttingDown bool

	nextID int
}

// New constructs a Runtime around the given Backend.
func New(backend Backend) *Runtime {
	return &Runtime{
		backend: backend,
		handles: make(map[string]*Handle),
	}
}

// Spawn resolves spec.Command, rejects unsafe commands, starts the
// subprocess, and returns a Handle.
func (r *Runtime) Spawn(ctx context.Context, spec config.ReviewerSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeCommand, spec.Command)
	}

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.nextID++
	id := fmt.Sprintf("h%d", r.nextID)
	r.mu.Unlock()

	log.InfoS(ctx, "spawning agent", "reviewer", spec.Name,
		"command", spec.Command, "args", RedactArgs(spec.Args))

	session, err := r.backend.Connect(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("connecting agent session for %s: %w", spec.Name, err)
	}

	h := &Handle{ID: id, Name: spec.Name, Model: spec.Model, session: session}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	return h, nil
}

// Prompt sends text on handle's session and accumulates the streamed
// result, honoring the delta-accumulator-wins precedence rule: if any
// message_delta events arrived, the returned string is their concatenation
// regardless of any later assistant.message event.
func (r *Runtime) Prompt(ctx context.Context, h *Handle, text string, timeoutMs int, sink EventSink) (string, error) {
	if sink == nil {
		sink = NoopSink{}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	if err := h.session.Send(ctx, text); err != nil {
		return "", err
	}

	var accumulator fn.Option[string]
	var finalMessage string

	events := h.session.Events()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timed out after %dms", timeoutMs)

		case ev, ok := <-events:
			if !ok {
				return resolvePromptResult(accumulator, finalMessage), nil
			}

			switch ev.Kind {
			case EventMessageDelta:
				prev := accumulator.UnwrapOr("")
				accumulator = fn.Some(prev + ev.DeltaContent)
				sink.OnDelta(h.Name, ev.DeltaContent)

			case EventMessage:
				finalMessage = ev.Content

			case EventToolActivity:
				sink.OnToolActivity(h.Name, ev.ToolName, ev.ToolLabel)

			case EventIdle:
				return resolvePromptResult(accumulator, finalMessage), nil

			case EventError:
				return "", ev.Err
			}
		}
	}
}

// resolvePromptResult prefers the streamed delta accumulator over the
// final message when both are present.
func resolvePromptResult(accumulator fn.Option[string], finalMessage string) string {
	return accumulator.UnwrapOr(finalMessage)
}

// Stop attempts a graceful shutdown of h's session, forcefully killing it
// after 5s if the graceful path does not return in time. Stop is
// idempotent and removes h from the live handle set.
func (r *Runtime) Stop(ctx context.Context, h *Handle) {
	r.mu.Lock()
	delete(r.handles, h.ID)
	r.mu.Unlock()

	grace := r.StopGracePeriod
	if grace <= 0 {
		grace = DefaultStopGracePeriod
	}

	done := make(chan error, 1)
	go func() { done <- h.session.Stop(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.WarnS(ctx, "graceful stop returned error", "reviewer", h.Name, "err", err)
		}
	case <-time.After(grace):
		log.WarnS(ctx, "graceful stop timed out, killing", "reviewer", h.Name)
		if err := h.session.Kill(); err != nil {
			log.WarnS(ctx, "force kill returned error", "reviewer", h.Name, "err", err)
		}
	}
}

// Shutdown refuses further spawns and concurrently stops every live
// handle, with all-settled semantics (one handle's stop error never
// blocks the others).
func (r *Runtime) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			r.Stop(ctx, h)
		}(h)
	}
	wg.Wait()
}

// isAgentLookupError reports whether err indicates the command could not
// be resolved against PATH, matching the OS-native lookup failure.
func isAgentLookupError(err error) bool {
	var lookErr *exec.Error
	return errors.As(err, &lookErr)
}
