package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
	"github.com/dcshock/trypipe/validate"
)

// RetryConfig describes a retry policy for `try while` bodies, in YAML or TOML.
//
//	max_attempts = 5
//	backoff = "exponential"   # "fixed", "exponential" or "" (no delay)
//	initial = "100ms"
//	multiplier = 2
//	cap = "5s"
//	retryable_only = true     # only retry errors marked with pipeline.RetryableErr
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts" toml:"max_attempts"`
	Backoff       string   `yaml:"backoff" toml:"backoff"`
	Initial       Duration `yaml:"initial" toml:"initial"`
	Multiplier    float64  `yaml:"multiplier" toml:"multiplier"`
	Cap           Duration `yaml:"cap" toml:"cap"`
	RetryableOnly bool     `yaml:"retryable_only" toml:"retryable_only"`
}

// Policy returns the retry policy, or nil for a nil config.
func (c *RetryConfig) Policy() (*pipeline.RetryPolicy, error) {
	if c == nil {
		return nil, nil
	}
	if c.MaxAttempts < 0 {
		return nil, fmt.Errorf("max_attempts must not be negative, got %d", c.MaxAttempts)
	}
	policy := &pipeline.RetryPolicy{MaxAttempts: c.MaxAttempts}
	if c.RetryableOnly {
		policy.ShouldRetry = pipeline.IsRetryable
	}
	initial := c.Initial.Duration()
	if initial <= 0 {
		initial = time.Second
	}
	switch c.Backoff {
	case "":
	case "fixed":
		policy.Backoff = pipeline.FixedBackoff(initial)
	case "exponential":
		policy.Backoff = pipeline.ExponentialBackoff{Initial: initial, Multiplier: c.Multiplier, Cap: c.Cap.Duration()}
	default:
		return nil, fmt.Errorf("backoff %q not supported (use \"fixed\" or \"exponential\")", c.Backoff)
	}
	return policy, nil
}

// Settings are the tool settings read from trypipe.toml.
//
//	[validate]
//	missing_terminal = "warning"
//	types = ["Timeout", "Conflict"]
//
//	[validate.produces]
//	fetch = "Timeout"
//
//	[retry]
//	max_attempts = 3
//	backoff = "fixed"
//	initial = "200ms"
//
//	[store]
//	path = "runs.db"
//
//	[check]
//	concurrency = 8
type Settings struct {
	Validate ValidateSettings `toml:"validate"`
	Retry    *RetryConfig     `toml:"retry"`
	Store    StoreSettings    `toml:"store"`
	Check    CheckSettings    `toml:"check"`
}

// ValidateSettings configures the optional validation checks.
type ValidateSettings struct {
	MissingTerminal validate.Severity `toml:"missing_terminal"`
	// Types lists the failure type names host functions produce. When set,
	// stage patterns naming other types are reported.
	Types    []string          `toml:"types"`
	Produces map[string]string `toml:"produces"`
}

// StoreSettings locates the sqlite run store.
type StoreSettings struct {
	Path string `toml:"path"`
}

// CheckSettings tunes the check command.
type CheckSettings struct {
	Concurrency int `toml:"concurrency"`
}

// ParseSettings parses TOML settings. Unknown keys are an error.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	md, err := toml.Decode(string(data), &s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown settings: %s", strings.Join(keys, ", "))
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &s, nil
}

// LoadSettings reads settings from path. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := &Settings{}
		return s, s.validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

// validate checks the settings and fills defaults.
func (s *Settings) validate() error {
	if s.Check.Concurrency <= 0 {
		s.Check.Concurrency = 4
	}
	if _, err := s.Retry.Policy(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// ValidateOptions returns the validator options the settings describe.
func (s *Settings) ValidateOptions() *validate.Options {
	opts := &validate.Options{
		MissingTerminal: s.Validate.MissingTerminal,
		Produces:        s.Validate.Produces,
	}
	if len(s.Validate.Types) > 0 {
		types := failure.NewTypes()
		for _, name := range s.Validate.Types {
			// named by raise or by Tagged payloads; nothing to classify
			types.Register(name, func(error) bool { return false })
		}
		opts.Types = types
	}
	return opts
}

// RetryPolicy returns the configured default retry policy, or nil.
func (s *Settings) RetryPolicy() *pipeline.RetryPolicy {
	p, _ := s.Retry.Policy() // checked when the settings were loaded
	return p
}
