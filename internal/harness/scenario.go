package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/evalbot/internal/responder"
)

// Scenario is one scripted conversation with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Responses maps command arguments to reply text.
	Responses map[string]string `yaml:"responses,omitempty"`

	// Failures maps command arguments to a collaborator failure kind.
	Failures map[string]string `yaml:"failures,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of the fields below.
type Step struct {
	New      *MessageStep `yaml:"new,omitempty"`
	Edit     *MessageStep `yaml:"edit,omitempty"`
	FailNext string       `yaml:"fail_next,omitempty"`
	Advance  string       `yaml:"advance,omitempty"`
}

// MessageStep is an inbound message event.
type MessageStep struct {
	Chat    int64  `yaml:"chat"`
	Message int64  `yaml:"message"`
	Text    string `yaml:"text"`
	Private bool   `yaml:"private,omitempty"`
}

// Assertion validates the journal or the final records.
type Assertion struct {
	Type string `yaml:"type"`

	// Chat and Message select a record (record, no_record, reply_text).
	Chat    int64 `yaml:"chat,omitempty"`
	Message int64 `yaml:"message,omitempty"`

	// Optional record expectations.
	Reply      *int64  `yaml:"reply,omitempty"`
	Version    *uint64 `yaml:"version,omitempty"`
	Recognized *bool   `yaml:"recognized,omitempty"`

	Text    string   `yaml:"text,omitempty"`
	Action  string   `yaml:"action,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord      = "record"
	AssertNoRecord    = "no_record"
	AssertRecordCount = "record_count"
	AssertActionCount = "action_count"
	AssertReplyText   = "reply_text"
	AssertTraceOrder  = "trace_order"
)

var platformOps = map[string]bool{"send": true, "edit": true, "delete": true}

var failureKinds = map[string]responder.FailureKind{
	string(responder.FailureTimeout):     responder.FailureTimeout,
	string(responder.FailureUnreachable): responder.FailureUnreachable,
	string(responder.FailureUpstream):    responder.FailureUpstream,
	string(responder.FailureDecode):      responder.FailureDecode,
	string(responder.FailureUnavailable): responder.FailureUnavailable,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for args, kind := range s.Failures {
		if _, ok := failureKinds[kind]; !ok {
			return fmt.Errorf("failures[%q]: unknown failure kind %q", args, kind)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	if step.New != nil {
		set++
	}
	if step.Edit != nil {
		set++
	}
	if step.FailNext != "" {
		set++
		if !platformOps[step.FailNext] {
			return fmt.Errorf("steps[%d]: fail_next must be send, edit, or delete, got %q", index, step.FailNext)
		}
	}
	if step.Advance != "" {
		set++
		d, err := time.ParseDuration(step.Advance)
		if err != nil || d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be a positive duration, got %q", index, step.Advance)
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of new, edit, fail_next, advance is required", index)
	}

	msg := step.New
	if msg == nil {
		msg = step.Edit
	}
	if msg != nil && (msg.Chat == 0 || msg.Message == 0) {
		return fmt.Errorf("steps[%d]: chat and message are required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecord, AssertNoRecord:
		if a.Chat == 0 || a.Message == 0 {
			return fmt.Errorf("assertions[%d]: chat and message are required for %s", index, a.Type)
		}
	case AssertReplyText:
		if a.Chat == 0 || a.Message == 0 {
			return fmt.Errorf("assertions[%d]: chat and message are required for reply_text", index)
		}
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for reply_text", index)
		}
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertActionCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for action_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for action_count", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
