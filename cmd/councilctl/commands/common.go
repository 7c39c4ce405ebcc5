package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/roasbeef/councilreview/internal/agentruntime"
	"github.com/roasbeef/councilreview/internal/agentruntime/claudesdk"
	"github.com/roasbeef/councilreview/internal/config"
	"github.com/roasbeef/councilreview/internal/eventstream"
	"github.com/roasbeef/councilreview/internal/pipeline"
	"github.com/roasbeef/councilreview/internal/scheduler"
	"github.com/roasbeef/councilreview/internal/sourcereader"
)

// loadConfig reads the CouncilConfig from the CONFIG_JSON environment
// variable when it is set and --config was not given explicitly, otherwise
// from configPath, and applies the fixed set of environment-variable
// overrides on top of it.
func loadConfig() (config.CouncilConfig, error) {
	var (
		cfg config.CouncilConfig
		err error
	)
	inline := os.Getenv("CONFIG_JSON")
	if inline != "" && !rootCmd.PersistentFlags().Changed("config") {
		cfg, err = config.Load([]byte(inline))
	} else {
		cfg, err = config.LoadFile(configPath)
	}
	if err != nil {
		return config.CouncilConfig{}, err
	}
	return config.LoadEnvOverrides().Apply(cfg), nil
}

// buildService wires a fresh Source Reader, Agent Runtime (backed by the
// real Claude Agent SDK), Council Scheduler, Event Stream bus, and
// pipeline Service around cfg.
func buildService(cfg config.CouncilConfig) *pipeline.Service {
	reader := sourcereader.New(cfg.SensitivePatterns)
	runtime := agentruntime.New(claudesdk.New(cliPath))
	sched := scheduler.New(runtime)
	bus := eventstream.NewBus()

	return pipeline.NewService(reader, sched, bus, cfg)
}

// runAndStream pre-registers a fresh review id on svc's event bus,
// launches work in a goroutine, and renders every event it emits to
// stdout as it arrives -- the CLI's stand-in for a real HTTP/SSE/WS
// transport's wire-level event rendering.
func runAndStream(ctx context.Context, svc *pipeline.Service, work func(ctx context.Context, reviewID string) (*pipeline.ReviewResult, error)) (*pipeline.ReviewResult, error) {
	reviewID := uuid.NewString()[:8]
	svc.Bus().Ensure(reviewID)

	events, err := svc.Bus().Subscribe(reviewID)
	if err != nil {
		return nil, fmt.Errorf("subscribing to review %s: %w", reviewID, err)
	}
	defer svc.Bus().Unsubscribe(reviewID)

	resultCh := make(chan workResult, 1)
	go func() {
		res, err := work(ctx, reviewID)
		resultCh <- workResult{res: res, err: err}
	}()

	for ev := range events {
		renderEvent(ev)
		if _, ok := ev.(eventstream.ResultEvent); ok {
			break
		}
		if _, ok := ev.(eventstream.ErrorEvent); ok {
			break
		}
	}
	out := <-resultCh
	return out.res, out.err
}

type workResult struct {
	res *pipeline.ReviewResult
	err error
}

// renderEvent prints one event as a single line, in the shape a real
// SSE/WS transport would serialize it.
func renderEvent(ev eventstream.Event) {
	if outputFormat == "json" {
		renderJSON(ev)
		return
	}

	switch e := ev.(type) {
	case eventstream.ProgressEvent:
		fmt.Printf("[progress] %s: %s\n", e.Reviewer, e.Status)
	case eventstream.DeltaEvent:
		fmt.Printf("[delta] %s: %s\n", e.Reviewer, e.Content)
	case eventstream.ToolActivityEvent:
		fmt.Printf("[tool] %s: %s %s\n", e.Reviewer, e.ToolName, e.Args)
	case eventstream.ResultEvent:
		fmt.Println("[result] review complete")
	case eventstream.ErrorEvent:
		fmt.Printf("[error] %s\n", e.Message)
	}
}

func renderJSON(ev eventstream.Event) {
	var tag string
	switch ev.(type) {
	case eventstream.ProgressEvent:
		tag = "progress"
	case eventstream.DeltaEvent:
		tag = "delta"
	case eventstream.ToolActivityEvent:
		tag = "tool-activity"
	case eventstream.ResultEvent:
		tag = "result"
	case eventstream.ErrorEvent:
		tag = "error"
	}

	data, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: tag, Data: ev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshaling event:", err)
		return
	}
	fmt.Println(string(data))
}

// outputResult prints the final ReviewResult as JSON to stdout.
func outputResult(result *pipeline.ReviewResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
