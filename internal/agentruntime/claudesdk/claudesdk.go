// Package claudesdk implements an agentruntime.Backend on top of
// github.com/roasbeef/claude-agent-sdk-go, the real streaming Claude Agent
// SDK client used to drive reviewer and decision-maker subprocesses.
package claudesdk

import (
	"context"
	"fmt"

	claudeagent "github.com/roasbeef/claude-agent-sdk-go"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/config"
)

// Backend drives reviewer subprocesses through the Claude Agent SDK.
type Backend struct {
	// CLIPath overrides the default "claude" binary lookup.
	CLIPath string

	// NoSessionPersistence disables on-disk session saving so review runs
	// don't leave stray session state behind.
	NoSessionPersistence bool
}

// New returns a claudesdk Backend.
func New(cliPath string) *Backend {
	return &Backend{CLIPath: cliPath, NoSessionPersistence: true}
}

// Connect builds client options from spec and opens a streaming SDK
// client.
func (b *Backend) Connect(ctx context.Context, spec config.ReviewerSpec) (agentruntime.Session, error) {
	opts := []claudeagent.Option{}

	if spec.Model != "" {
		opts = append(opts, claudeagent.WithModel(spec.Model))
	}
	if b.CLIPath != "" && b.CLIPath != "claude" {
		opts = append(opts, claudeagent.WithCLIPath(b.CLIPath))
	}
	if b.NoSessionPersistence {
		opts = append(opts, claudeagent.WithNoSessionPersistence())
	}

	client, err := claudeagent.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating claude agent client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to claude CLI subprocess: %w", err)
	}

	return &session{client: client}, nil
}

type session struct {
	client *claudeagent.Client
	events chan agentruntime.SessionEvent
}

// Send fires off the SDK query and translates its message channel into
// SessionEvents. The SDK's own streaming protocol doesn't expose
// granular message_delta events per token the way a raw CLI transcript
// would; each AssistantMessage chunk is treated as one delta, and the
// ResultMessage (or, absent one, the final AssistantMessage) supplies the
// terminal EventMessage/EventIdle pair.
func (s *session) Send(ctx context.Context, prompt string) error {
	s.events = make(chan agentruntime.SessionEvent, 16)

	go func() {
		defer close(s.events)

		var lastAssistant claudeagent.AssistantMessage
		haveAssistant := false

		for msg := range s.client.Query(ctx, prompt) {
			switch m := msg.(type) {
			case claudeagent.AssistantMessage:
				lastAssistant = m
				haveAssistant = true
				if text := m.ContentText(); text != "" {
					s.events <- agentruntime.SessionEvent{
						Kind:         agentruntime.EventMessageDelta,
						DeltaContent: text,
					}
				}

			case claudeagent.ResultMessage:
				if m.IsError {
					errMsg := "claude agent returned an error result"
					if len(m.Errors) > 0 {
						errMsg = m.Errors[0]
					}
					s.events <- agentruntime.SessionEvent{
						Kind: agentruntime.EventError,
						Err:  fmt.Errorf("%s", errMsg),
					}
					return
				}
				if m.Result != "" {
					s.events <- agentruntime.SessionEvent{
						Kind:    agentruntime.EventMessage,
						Content: m.Result,
					}
				}
				s.events <- agentruntime.SessionEvent{Kind: agentruntime.EventIdle}
				return
			}
		}

		if haveAssistant {
			s.events <- agentruntime.SessionEvent{
				Kind:    agentruntime.EventMessage,
				Content: lastAssistant.ContentText(),
			}
		}
		s.events <- agentruntime.SessionEvent{Kind: agentruntime.EventIdle}
	}()

	return nil
}

func (s *session) Events() <-chan agentruntime.SessionEvent {
	return s.events
}

func (s *session) Stop(ctx context.Context) error {
	return s.client.Close()
}

func (s *session) Kill() error {
	return s.client.Close()
}
