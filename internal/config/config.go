// Package config defines the static shape of a council review configuration
// and the environment-variable overrides applied on top of a loaded file.
// Watching the file for changes and serving it over HTTP are treated as an
// external collaborator's job; this package supplies the value type, JSON
// loading from bytes or a file on disk, and the pure override/merge logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Protocol tags a reviewer's agent session protocol shape.
type Protocol string

const (
	ProtocolDefault       Protocol = "default"
	ProtocolNativeCopilot Protocol = "native-copilot"
)

// ExecutionMode selects how the review pipeline packages code for review.
type ExecutionMode string

const (
	ModeInline  ExecutionMode = "inline"
	ModeBatch   ExecutionMode = "batch"
	ModeExplore ExecutionMode = "explore"
)

// CheckCategory is one of the fixed review dimensions.
type CheckCategory string

const (
	CheckSecurity      CheckCategory = "security"
	CheckPerformance   CheckCategory = "performance"
	CheckReadability   CheckCategory = "readability"
	CheckCodeQuality   CheckCategory = "code-quality"
	CheckBestPractices CheckCategory = "best-practices"
	CheckOther         CheckCategory = "other"
)

// AllCheckCategories is the full fixed set, used to validate a config's
// default check list and to coerce unknown decision categories.
var AllCheckCategories = map[CheckCategory]bool{
	CheckSecurity:      true,
	CheckPerformance:   true,
	CheckReadability:   true,
	CheckCodeQuality:   true,
	CheckBestPractices: true,
	CheckOther:         true,
}

// cliCommandPattern matches the restricted executable basename grammar an
// agent runtime will accept: letters, digits, dot, underscore, hyphen.
var cliCommandPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidCommand reports whether command is safe to resolve and spawn: it
// matches the allowed character class, is not "." or "..", contains no
// path separator, and does not begin with a flag-looking hyphen.
func ValidCommand(command string) bool {
	if command == "" || command == "." || command == ".." {
		return false
	}
	if command[0] == '-' {
		return false
	}
	for _, r := range command {
		if r == '/' || r == '\\' {
			return false
		}
	}
	return cliCommandPattern.MatchString(command)
}

// ReviewerSpec describes one council member.
type ReviewerSpec struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Protocol   Protocol `json:"protocol,omitempty"`
	Model      string   `json:"model,omitempty"`
	TimeoutMs  int      `json:"timeoutMs,omitempty"`
	MaxRetries int      `json:"maxRetries,omitempty"`
	Streaming  bool     `json:"streaming,omitempty"`
}

// DefaultTimeoutMs is applied when a ReviewerSpec omits TimeoutMs.
const DefaultTimeoutMs = 180_000

// MaxRetriesCap is the hard ceiling on a reviewer's configured retry count.
const MaxRetriesCap = 5

// EffectiveTimeoutMs returns the spec's configured timeout, or the default.
func (r ReviewerSpec) EffectiveTimeoutMs() int {
	if r.TimeoutMs <= 0 {
		return DefaultTimeoutMs
	}
	return r.TimeoutMs
}

// EffectiveMaxRetries returns the spec's configured retry count, capped.
func (r ReviewerSpec) EffectiveMaxRetries() int {
	retries := r.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > MaxRetriesCap {
		retries = MaxRetriesCap
	}
	return retries
}

// Validate reports a validation error for an unsafe command, matching K1
// (input validation) in the error taxonomy.
func (r ReviewerSpec) Validate() error {
	if !ValidCommand(r.Command) {
		return fmt.Errorf("unsafe command rejected: %q", r.Command)
	}
	return nil
}

// LengthCaps overrides the default prompt length budgets.
type LengthCaps struct {
	MaxCodeLength    int `json:"maxCodeLength,omitempty"`
	MaxReviewsLength int `json:"maxReviewsLength,omitempty"`
	MaxSummaryLength int `json:"maxSummaryLength,omitempty"`
}

// Default length caps, used whenever a CouncilConfig leaves a field unset.
const (
	DefaultMaxCodeLength    = 50_000
	DefaultMaxReviewsLength = 30_000
	DefaultMaxSummaryLength = 20_000
)

// Effective fills in zero fields with the package defaults.
func (l LengthCaps) Effective() LengthCaps {
	out := l
	if out.MaxCodeLength <= 0 {
		out.MaxCodeLength = DefaultMaxCodeLength
	}
	if out.MaxReviewsLength <= 0 {
		out.MaxReviewsLength = DefaultMaxReviewsLength
	}
	if out.MaxSummaryLength <= 0 {
		out.MaxSummaryLength = DefaultMaxSummaryLength
	}
	return out
}

// DefaultExtensions is the default source-file extension whitelist used by
// reviewCodebase when a CouncilConfig does not override it.
var DefaultExtensions = []string{
	".ts", ".js", ".tsx", ".jsx", ".py", ".go", ".java", ".kt", ".rs",
	".rb", ".php", ".cs", ".swift", ".c", ".cpp", ".h", ".vue", ".svelte",
	".html", ".css", ".scss", ".json", ".yaml", ".yml",
}

// CouncilConfig is the full, immutable configuration for one council of
// reviewers plus a decision maker.
type CouncilConfig struct {
	Reviewers          []ReviewerSpec  `json:"reviewers"`
	DecisionMaker      ReviewerSpec    `json:"decisionMaker"`
	DefaultChecks      []CheckCategory `json:"defaultChecks,omitempty"`
	Language           string          `json:"language,omitempty"`
	Mode               ExecutionMode   `json:"mode,omitempty"`
	ExtensionWhitelist []string        `json:"extensionWhitelist,omitempty"`
	SensitivePatterns  []string        `json:"sensitivePatterns,omitempty"`
	LengthCaps         LengthCaps      `json:"lengthCaps,omitempty"`
}

// EffectiveMode returns the configured execution mode, or ModeInline.
func (c CouncilConfig) EffectiveMode() ExecutionMode {
	if c.Mode == "" {
		return ModeInline
	}
	return c.Mode
}

// EffectiveExtensions returns the configured extension whitelist, or the
// package default list.
func (c CouncilConfig) EffectiveExtensions() []string {
	if len(c.ExtensionWhitelist) == 0 {
		return DefaultExtensions
	}
	return c.ExtensionWhitelist
}

// Load parses a CouncilConfig from JSON bytes.
func Load(data []byte) (CouncilConfig, error) {
	var cfg CouncilConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CouncilConfig{}, fmt.Errorf("parsing council config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads and parses a CouncilConfig from a JSON file on disk.
func LoadFile(path string) (CouncilConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CouncilConfig{}, fmt.Errorf("reading council config %s: %w", path, err)
	}
	return Load(data)
}

// EnvOverrides holds the environment-variable overrides specified for the
// CLI entrypoint. Empty values never override, matching the "empty values
// never override" rule.
type EnvOverrides struct {
	DecisionMakerModel     string
	DecisionMakerTimeoutMs string
	ReviewerTimeoutMs      string
	ReviewLanguage         string
	ReviewerExploreLocal   string
}

// LoadEnvOverrides reads the fixed set of environment variables the CLI
// entrypoint consumes.
func LoadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		DecisionMakerModel:     os.Getenv("DECISION_MAKER_MODEL"),
		DecisionMakerTimeoutMs: os.Getenv("DECISION_MAKER_TIMEOUT_MS"),
		ReviewerTimeoutMs:      os.Getenv("REVIEWER_TIMEOUT_MS"),
		ReviewLanguage:         os.Getenv("REVIEW_LANGUAGE"),
		ReviewerExploreLocal:   os.Getenv("REVIEWER_EXPLORE_LOCAL"),
	}
}

// Apply merges non-empty overrides onto a copy of cfg and returns it.
func (e EnvOverrides) Apply(cfg CouncilConfig) CouncilConfig {
	out := cfg

	if e.DecisionMakerModel != "" {
		out.DecisionMaker.Model = e.DecisionMakerModel
	}
	if e.DecisionMakerTimeoutMs != "" {
		if ms, err := strconv.Atoi(e.DecisionMakerTimeoutMs); err == nil {
			out.DecisionMaker.TimeoutMs = ms
		}
	}
	if e.ReviewerTimeoutMs != "" {
		if ms, err := strconv.Atoi(e.ReviewerTimeoutMs); err == nil {
			reviewers := make([]ReviewerSpec, len(out.Reviewers))
			for i, r := range out.Reviewers {
				r.TimeoutMs = ms
				reviewers[i] = r
			}
			out.Reviewers = reviewers
		}
	}
	if e.ReviewLanguage != "" {
		out.Language = e.ReviewLanguage
	}
	if e.ReviewerExploreLocal == "true" || e.ReviewerExploreLocal == "1" {
		out.Mode = ModeExplore
	}

	return out
}
