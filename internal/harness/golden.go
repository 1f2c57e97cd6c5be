package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/testutil"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// Render formats a result as a stable, line-oriented snapshot.
//
// Signatures are hashes and are shown only as "recognized"; timestamps
// are omitted.
func Render(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("\ntransitions:\n")
	if len(result.Transitions) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, t := range result.Transitions {
		fmt.Fprintf(&b, "  %s\n", formatTransition(t))
	}

	b.WriteString("\ncalls:\n")
	if len(result.Calls) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range result.Calls {
		fmt.Fprintf(&b, "  %s\n", formatCall(c))
	}

	b.WriteString("\nrecords:\n")
	if len(result.Records) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range result.Records {
		fmt.Fprintf(&b, "  %s\n", formatRecord(r))
	}
	return []byte(b.String())
}

func formatTransition(t engine.Transition) string {
	s := fmt.Sprintf("%d %s %d/%d v%d %s", t.Seq, t.TraceID, t.ChatID, t.MessageID, t.Version, t.Action)
	if t.ReplyID != 0 {
		s += fmt.Sprintf(" reply=%d", t.ReplyID)
	}
	if t.Signature != "" {
		s += " recognized"
	}
	if t.Detail != "" {
		s += fmt.Sprintf(" detail=%q", t.Detail)
	}
	return s
}

func formatCall(c testutil.Call) string {
	s := fmt.Sprintf("%s %d/%d", c.Op, c.ChatID, c.MessageID)
	if c.ReplyTo != 0 {
		s += fmt.Sprintf(" reply_to=%d", c.ReplyTo)
	}
	if c.Text != "" {
		s += fmt.Sprintf(" text=%q", c.Text)
	}
	return s
}

func formatRecord(r record.CommandRecord) string {
	s := fmt.Sprintf("%d/%d reply=%d v%d", r.ChatID, r.CommandMessageID, r.ReplyMessageID, r.Version)
	if r.Signature != "" {
		s += " recognized"
	}
	return s
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden. Assertion failures fail t.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}
