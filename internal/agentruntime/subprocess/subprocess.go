// Package subprocess implements a generic agentruntime.Backend over any
// reviewer CLI that speaks newline-delimited JSON events on stdout, in the
// shape the agent session protocol describes. It does not assume any
// specific vendor's schema beyond {type, message.content[], result}.
//
// Grounded on xinguang/agentic-coder's pkg/provider/claudecli streamReader:
// exec.CommandContext, a piped stdout scanner with an enlarged buffer, and
// delta computation by diffing against the last-seen text for a content
// block.
package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/config"
)

// Backend spawns reviewer CLIs as subprocesses speaking newline-delimited
// JSON, in the shape {type: "assistant"|"result"|"error", ...}.
type Backend struct{}

// New returns a subprocess Backend.
func New() *Backend {
	return &Backend{}
}

// Connect starts spec.Command with spec.Args, unchanged, and returns a
// Session wrapping its stdout stream.
func (b *Backend) Connect(ctx context.Context, spec config.ReviewerSpec) (agentruntime.Session, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1<<20), 10<<20)

	s := &session{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		scanner: scanner,
		events:  make(chan agentruntime.SessionEvent, 16),
	}

	go s.pump()

	return s, nil
}

// cliEvent is the newline-delimited JSON event shape consumed from a
// reviewer CLI's stdout.
type cliEvent struct {
	Type string `json:"type"`
	Message struct {
		Content []struct {
			Type  string `json:"type"`
			Text  string `json:"text,omitempty"`
			Name  string `json:"name,omitempty"`
			Input struct {
				FilePath      string `json:"file_path,omitempty"`
				Path          string `json:"path,omitempty"`
				FilePathCamel string `json:"filePath,omitempty"`
				Command       string `json:"command,omitempty"`
			} `json:"input,omitempty"`
		} `json:"content"`
	} `json:"message"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type session struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	events  chan agentruntime.SessionEvent

	mu       sync.Mutex
	lastText string
}

func (s *session) Send(ctx context.Context, prompt string) error {
	_, err := io.WriteString(s.stdin, prompt+"\n")
	return err
}

func (s *session) Events() <-chan agentruntime.SessionEvent {
	return s.events
}

func (s *session) pump() {
	defer close(s.events)

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev cliEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "assistant":
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					s.mu.Lock()
					if len(block.Text) > len(s.lastText) {
						delta := block.Text[len(s.lastText):]
						s.lastText = block.Text
						s.mu.Unlock()
						s.events <- agentruntime.SessionEvent{
							Kind:         agentruntime.EventMessageDelta,
							DeltaContent: delta,
						}
					} else {
						s.mu.Unlock()
					}

				case "tool_use":
					label := firstNonEmpty(
						block.Input.FilePath, block.Input.Path,
						block.Input.FilePathCamel, block.Input.Command,
					)
					s.events <- agentruntime.SessionEvent{
						Kind:      agentruntime.EventToolActivity,
						ToolName:  block.Name,
						ToolLabel: label,
					}
				}
			}

		case "result":
			if ev.Error != "" {
				s.events <- agentruntime.SessionEvent{
					Kind: agentruntime.EventError,
					Err:  fmt.Errorf("%s", ev.Error),
				}
				return
			}
			s.events <- agentruntime.SessionEvent{Kind: agentruntime.EventIdle}
			return

		case "error":
			s.events <- agentruntime.SessionEvent{
				Kind: agentruntime.EventError,
				Err:  fmt.Errorf("%s", ev.Error),
			}
			return
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.events <- agentruntime.SessionEvent{Kind: agentruntime.EventError, Err: err}
	}
}

func (s *session) Stop(ctx context.Context) error {
	_ = s.stdin.Close()
	_ = s.stdout.Close()
	return s.cmd.Wait()
}

func (s *session) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
