package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []engine.Transition
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, t := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", formatTransition(t))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(result, a)
	case AssertNoRecord:
		return assertNoRecord(result, a)
	case AssertRecordCount:
		return assertRecordCount(result, a)
	case AssertActionCount:
		return assertActionCount(result, a)
	case AssertReplyText:
		return assertReplyText(result, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Transitions, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func findRecord(records []record.CommandRecord, chat, message int64) (record.CommandRecord, bool) {
	for _, r := range records {
		if r.ChatID == chat && r.CommandMessageID == message {
			return r, true
		}
	}
	return record.CommandRecord{}, false
}

// assertRecord checks that a record exists and matches the given fields.
func assertRecord(result *Result, a Assertion) error {
	rec, ok := findRecord(result.Records, a.Chat, a.Message)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record for %d/%d", a.Chat, a.Message),
			Actual:   "not found",
			Trace:    result.Transitions,
		}
	}

	var diffs []string
	if a.Reply != nil && rec.ReplyMessageID != *a.Reply {
		diffs = append(diffs, fmt.Sprintf("reply %d, want %d", rec.ReplyMessageID, *a.Reply))
	}
	if a.Version != nil && rec.Version != *a.Version {
		diffs = append(diffs, fmt.Sprintf("version %d, want %d", rec.Version, *a.Version))
	}
	if a.Recognized != nil && (rec.Signature != "") != *a.Recognized {
		diffs = append(diffs, fmt.Sprintf("recognized %t, want %t", rec.Signature != "", *a.Recognized))
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record for %d/%d to match", a.Chat, a.Message),
			Actual:   strings.Join(diffs, ", "),
			Trace:    result.Transitions,
		}
	}
	return nil
}

func assertNoRecord(result *Result, a Assertion) error {
	if rec, ok := findRecord(result.Records, a.Chat, a.Message); ok {
		return &AssertionError{
			Type:     AssertNoRecord,
			Expected: fmt.Sprintf("no record for %d/%d", a.Chat, a.Message),
			Actual:   fmt.Sprintf("record with reply %d", rec.ReplyMessageID),
			Trace:    result.Transitions,
		}
	}
	return nil
}

func assertRecordCount(result *Result, a Assertion) error {
	if len(result.Records) != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", len(result.Records)),
		}
	}
	return nil
}

// assertActionCount checks if the action appears exactly the specified number of times.
func assertActionCount(result *Result, a Assertion) error {
	count := 0
	for _, t := range result.Transitions {
		if string(t.Action) == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("action %s to occur %d times", a.Action, a.Count),
			Actual:   fmt.Sprintf("occurred %d times", count),
			Trace:    result.Transitions,
		}
	}
	return nil
}

// assertReplyText checks the text of the reply currently displayed for a
// command message.
func assertReplyText(result *Result, a Assertion) error {
	var found []string
	for _, m := range result.Displayed {
		if m.ChatID == a.Chat && m.ReplyTo == a.Message {
			found = append(found, m.Text)
		}
	}

	switch {
	case len(found) == 1 && found[0] == a.Text:
		return nil
	case len(found) == 0:
		return &AssertionError{
			Type:     AssertReplyText,
			Expected: fmt.Sprintf("reply %q to %d/%d", a.Text, a.Chat, a.Message),
			Actual:   "no reply displayed",
			Trace:    result.Transitions,
		}
	default:
		return &AssertionError{
			Type:     AssertReplyText,
			Expected: fmt.Sprintf("reply %q to %d/%d", a.Text, a.Chat, a.Message),
			Actual:   fmt.Sprintf("%q", found),
			Trace:    result.Transitions,
		}
	}
}

// assertTraceOrder checks that actions appear in the specified order.
// Intervening actions are allowed.
func assertTraceOrder(trace []engine.Transition, a Assertion) error {
	next := 0
	for _, t := range trace {
		if next < len(a.Actions) && string(t.Action) == a.Actions[next] {
			next++
		}
	}
	if next == len(a.Actions) {
		return nil
	}

	actual := make([]string, len(trace))
	for i, t := range trace {
		actual[i] = string(t.Action)
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("actions in order: %v", a.Actions),
		Actual:   fmt.Sprintf("%v (missing %s)", actual, a.Actions[next]),
		Trace:    trace,
	}
}
