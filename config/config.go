package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dcshock/trypipe/syntax"
)

// PipelineConfig is the structured form of one pipeline (e.g. from YAML). It
// describes the same pipeline the text syntax does; every body, condition and
// guard is an expression string.
//
//	name: import
//	prelude:
//	  - scope: import
//	  - require: len(rows) > 0
//	    else: '"nothing to import"'
//	try:
//	  for: row
//	  in: rows
//	  body: parse(row)
//	  with:
//	    - message: parsing row
//	      data: {row: row}
//	then:
//	  - bind: n
//	    body: n + 1
//	handlers:
//	  - catch: Conflict
//	    bind: e
//	    body: '"skipped"'
//	  - finally: cleanup()
type PipelineConfig struct {
	Name     string          `yaml:"name"`
	Async    bool            `yaml:"async"`
	Returns  string          `yaml:"returns"` // direct mode: the pipeline always produces a value of this type
	Prelude  []PreludeConfig `yaml:"prelude"`
	Try      TryConfig       `yaml:"try"`
	Then     []ThenConfig    `yaml:"then"`
	Handlers []HandlerConfig `yaml:"handlers"`

	// Timeouts bounds calls to the named functions for this pipeline (e.g. fetch: 2s).
	Timeouts map[string]Duration `yaml:"timeouts"`

	// Retry applies to `try while` bodies.
	Retry *RetryConfig `yaml:"retry"`
}

// PreludeConfig is a scope label or a require check, run before the try body.
// Exactly one of Scope or Require is set.
type PreludeConfig struct {
	Scope   string       `yaml:"scope"`
	Data    Data         `yaml:"data"`
	Require Expr         `yaml:"require"`
	Else    Expr         `yaml:"else"` // require failure: a message string or an error expression
	With    []WithConfig `yaml:"with"`

	at syntax.Position
}

func (c *PreludeConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw PreludeConfig
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = nodePos(value)
	return nil
}

// TryConfig is the try body. Set Body alone for a plain try; For, Any or All
// with In to run Body per element; While to retry Body; or When branches with
// an optional Else.
type TryConfig struct {
	Body  Expr           `yaml:"body"`
	For   string         `yaml:"for"`
	Any   string         `yaml:"any"`
	All   string         `yaml:"all"`
	In    Expr           `yaml:"in"`
	While Expr           `yaml:"while"`
	When  []BranchConfig `yaml:"when"`
	Else  Expr           `yaml:"else"`
	With  []WithConfig   `yaml:"with"`

	at syntax.Position
}

func (c *TryConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw TryConfig
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = nodePos(value)
	return nil
}

// BranchConfig is one arm of a conditional try.
type BranchConfig struct {
	If   Expr `yaml:"if"`
	Body Expr `yaml:"body"`

	at syntax.Position
}

func (c *BranchConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw BranchConfig
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = nodePos(value)
	return nil
}

// ThenConfig is a success step. Bind names the previous value.
type ThenConfig struct {
	Bind string       `yaml:"bind"`
	Body Expr         `yaml:"body"`
	With []WithConfig `yaml:"with"`

	at syntax.Position
}

func (c *ThenConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw ThenConfig
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = nodePos(value)
	return nil
}

// WithConfig adds context to a failing step. In YAML it can be written as a
// plain message:
//
//	with:
//	  - parsing row
//	  - message: row context
//	    data: {row: row}
type WithConfig struct {
	Message string `yaml:"message"`
	Data    Data   `yaml:"data"`

	at syntax.Position
}

// UnmarshalYAML allows a with entry to be a string (message only) or a struct.
func (c *WithConfig) UnmarshalYAML(value *yaml.Node) error {
	c.at = nodePos(value)
	if value.Kind == yaml.ScalarNode {
		c.Message = value.Value
		return nil
	}
	type raw WithConfig
	at := c.at
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = at
	return nil
}

// HandlerConfig is one error handler. Its kind is given by the key that holds
// the type pattern (catch, try_catch, throw, inspect) or the body (finally,
// else):
//
//	- catch: Timeout       # typed; leave empty to match any failure
//	  bind: e
//	  when: e.retries > 3
//	  body: fallback()
//	- throw: Conflict
//	  search: any
//	  bind: e
//	  body: raise("Conflict", "wrapped")
//	- finally: cleanup()
type HandlerConfig struct {
	Kind string `yaml:"-"` // catch, try_catch, throw, inspect, finally or else
	Type string `yaml:"-"`

	Search string       `yaml:"search"` // "any" or "all"; needs `try any` or `try all`
	Bind   string       `yaml:"bind"`
	When   Expr         `yaml:"when"`
	Body   Expr         `yaml:"body"`
	Match  *MatchConfig `yaml:"match"`

	at syntax.Position
}

var handlerKinds = map[string]bool{
	"catch": true, "try_catch": true, "throw": true, "inspect": true, "finally": true, "else": true,
}

func (c *HandlerConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: handler must be a mapping with a catch, throw, inspect, finally or else key", value.Line)
	}
	type raw HandlerConfig
	if err := value.Decode((*raw)(c)); err != nil {
		return err
	}
	c.at = nodePos(value)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if !handlerKinds[key.Value] {
			continue
		}
		if c.Kind != "" {
			return fmt.Errorf("line %d: handler has both %q and %q", key.Line, c.Kind, key.Value)
		}
		c.Kind = key.Value
		if key.Value == "finally" || key.Value == "else" {
			if err := val.Decode(&c.Body); err != nil {
				return err
			}
			continue
		}
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: %s type must be a name", val.Line, key.Value)
		}
		if val.Tag != "!!null" {
			c.Type = val.Value
		}
	}
	if c.Kind == "" {
		return fmt.Errorf("line %d: handler needs a catch, throw, inspect, finally or else key", value.Line)
	}
	return nil
}

// MatchConfig is an exhaustive decision table used as a handler body. An arm
// whose case is `_` matches anything; one is required.
type MatchConfig struct {
	On   Expr        `yaml:"on"`
	Arms []ArmConfig `yaml:"arms"`
}

type ArmConfig struct {
	Case Expr `yaml:"case"`
	Body Expr `yaml:"body"`
}

// Expr is expression source text. When read from YAML it remembers where it
// was written so spans and parse errors point into the YAML file. Content of
// block scalars (| and >) is located by line only.
type Expr struct {
	Src string
	at  syntax.Position
}

func (e *Expr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected an expression string", value.Line)
	}
	e.at = nodePos(value)
	if value.Tag == "!!null" {
		return nil
	}
	e.Src = value.Value
	switch {
	case value.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0:
		e.at.Col++
	case value.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0:
		e.at.Line++
		e.at.Col = 1
	}
	return nil
}

// padded places Src at its YAML position so the parser reports positions in
// the enclosing file.
func (e Expr) padded() string {
	if e.at.Line < 1 {
		return e.Src
	}
	return strings.Repeat("\n", e.at.Line-1) + strings.Repeat(" ", max(e.at.Col-1, 0)) + e.Src
}

// Data is an ordered key/expression map, used for with and scope context.
type Data []DataField

type DataField struct {
	Key   string
	Value Expr

	at syntax.Position
}

func (d *Data) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: data must be a mapping of key: expression", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i]
		var v Expr
		if err := value.Content[i+1].Decode(&v); err != nil {
			return err
		}
		*d = append(*d, DataField{Key: key.Value, Value: v, at: nodePos(key)})
	}
	return nil
}

func nodePos(n *yaml.Node) syntax.Position {
	return syntax.Position{Line: n.Line, Col: n.Column}
}

// Duration is a time.Duration that unmarshals from YAML and TOML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration().String()), nil }

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParsePipelineConfig parses YAML bytes into a single PipelineConfig.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SequenceConfig names pipelines to run in order (e.g. under the "sequences" key).
type SequenceConfig struct {
	Name      string   `yaml:"name"`
	Pipelines []string `yaml:"pipelines"`
}

// MultiPipelineConfig is the root structure for a file that defines multiple pipelines.
// Top-level key is "pipelines"; each value is a pipeline. "sequences" optionally
// chains them by name.
type MultiPipelineConfig struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Sequences map[string]SequenceConfig `yaml:"sequences"`
}

// ParseMultiPipelineConfig parses YAML bytes that contain a "pipelines" map from name to pipeline config.
// Example YAML:
//
//	pipelines:
//	  ingest:
//	    try: {body: fetch(url)}
//	    handlers:
//	      - catch:
//	        body: '"offline"'
//	  notify:
//	    try: {body: send(channel)}
//	sequences:
//	  nightly:
//	    pipelines: [ingest, notify]
func ParseMultiPipelineConfig(data []byte) (*MultiPipelineConfig, error) {
	var cfg MultiPipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
