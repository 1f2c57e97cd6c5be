package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/responder"
	"github.com/roach88/evalbot/internal/testutil"
)

// BotUsername is the identity the recognizer answers to.
const BotUsername = "evalbot"

// StepTimeout bounds how long a single step may take to settle.
const StepTimeout = 5 * time.Second

// ErrStepTimeout is returned when the engine does not settle after a step.
var ErrStepTimeout = errors.New("engine did not settle")

// Harness holds the collaborators of one scenario run.
type Harness struct {
	engine   *engine.Engine
	store    *record.Store
	journal  *MemoryJournal
	platform *testutil.FakePlatform
	clock    *testutil.FakeClock
}

// Run executes a scenario against a fresh engine and evaluates its
// assertions.
//
// Execution flow:
//  1. Build an in-memory record store, journal, and platform
//  2. Script the responder from the scenario
//  3. Apply each step and wait for the engine to go idle
//  4. Drain the engine and collect the result
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	h := newHarness(scenario, logger)

	for i, step := range scenario.Steps {
		if err := h.apply(step); err != nil {
			h.drain()
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := h.drain(); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	result := h.collect()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, logger *slog.Logger) *Harness {
	clock := testutil.NewFakeClock(time.Time{})
	store := record.NewMemory()
	store.SetNow(clock.Now)

	resp := testutil.NewScriptedResponder()
	for args, text := range scenario.Responses {
		resp.On(args, text)
	}
	for args, kind := range scenario.Failures {
		resp.OnError(args, &responder.CollaboratorError{Collaborator: "scripted", Kind: failureKinds[kind]})
	}

	h := &Harness{
		store:    store,
		journal:  &MemoryJournal{},
		platform: testutil.NewFakePlatform(),
		clock:    clock,
	}
	h.engine = engine.New(store, command.NewRecognizer(BotUsername), resp, h.platform,
		engine.WithJournal(h.journal),
		engine.WithLogger(logger),
		engine.WithNow(clock.Now),
		engine.WithTraceGenerator(engine.NewSequenceGenerator("trace")),
	)
	return h
}

func (h *Harness) apply(step Step) error {
	switch {
	case step.New != nil:
		return h.submit(engine.EventNew, step.New)
	case step.Edit != nil:
		return h.submit(engine.EventEdited, step.Edit)
	case step.FailNext != "":
		h.platform.FailNext(step.FailNext, fmt.Errorf("injected %s failure", step.FailNext))
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	}
	return nil
}

func (h *Harness) submit(typ engine.EventType, msg *MessageStep) error {
	err := h.engine.Submit(engine.Event{
		Type:      typ,
		ChatID:    msg.Chat,
		MessageID: msg.Message,
		SenderID:  msg.Chat,
		Text:      msg.Text,
		Private:   msg.Private,
		Date:      h.clock.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return h.settle()
}

// settle waits until the engine has no queued or in-flight events.
func (h *Harness) settle() error {
	deadline := time.Now().Add(StepTimeout)
	for !h.engine.Idle() {
		if time.Now().After(deadline) {
			return ErrStepTimeout
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (h *Harness) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()
	return h.engine.Drain(ctx)
}

func (h *Harness) collect() *Result {
	result := NewResult()
	result.Transitions = append(result.Transitions, h.journal.Transitions()...)
	result.Calls = append(result.Calls, h.platform.Calls()...)
	result.Displayed = append(result.Displayed, h.platform.Messages()...)
	result.Records = append(result.Records, h.store.All()...)
	return result
}
