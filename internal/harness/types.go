package harness

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Transitions is the engine journal in sequence order.
	Transitions []engine.Transition `json:"transitions"`

	// Calls is every platform call in order, failed ones included.
	Calls []testutil.Call `json:"calls"`

	// Displayed is what the bot has on screen at the end.
	Displayed []testutil.Message `json:"displayed"`

	// Records is the final record store content.
	Records []record.CommandRecord `json:"records"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Transitions: []engine.Transition{},
		Calls:       []testutil.Call{},
		Displayed:   []testutil.Message{},
		Records:     []record.CommandRecord{},
		Errors:      []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// MemoryJournal keeps transitions in memory. Safe for concurrent use.
type MemoryJournal struct {
	mu          sync.Mutex
	transitions []engine.Transition
}

// Append implements engine.Journal.
func (j *MemoryJournal) Append(_ context.Context, t engine.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, t)
	return nil
}

// Transitions returns a copy ordered by sequence number.
func (j *MemoryJournal) Transitions() []engine.Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := append([]engine.Transition(nil), j.transitions...)
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out
}
