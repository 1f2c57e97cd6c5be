package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/evalbot/internal/record"
)

// DefaultMaxConcurrent bounds concurrent responder calls across all chats.
const DefaultMaxConcurrent = 8

// DefaultRecordMaxAge is how long a command message stays editable on the
// platform. Older records are evicted.
const DefaultRecordMaxAge = 48 * time.Hour

// Engine is the command/reply synchronization engine.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Drain(): safe from any goroutine; later calls wait for the same lanes
//   - process(): runs on the lane goroutine of the event's chat
//
// INVARIANTS:
//   - At most one lane goroutine per chat
//   - accepted[key] is the newest version handed out for key
//   - e.mu is never held across responder or platform calls
type Engine struct {
	store      *record.Store
	recognizer Recognizer
	responder  Responder
	outbound   Outbound
	journal    Journal

	clock  *Clock
	traces TraceGenerator
	logger *slog.Logger
	now    func() time.Time
	maxAge time.Duration
	sem    *semaphore.Weighted

	// ctx is cancelled when a drain deadline expires, aborting in-flight calls.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	lanes    map[int64]*eventQueue
	accepted map[record.Key]uint64
	pending  map[record.Key]int
	draining bool
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records every transition in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the logical clock used for journal sequence numbers.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTraceGenerator sets the trace id generator. Default: UUIDv7Generator.
func WithTraceGenerator(g TraceGenerator) Option {
	return func(e *Engine) {
		e.traces = g
	}
}

// WithNow overrides the wall clock used for eviction and journal timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxConcurrent bounds concurrent responder calls.
// Default: DefaultMaxConcurrent.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRecordMaxAge sets the eviction age. Zero disables eviction.
func WithRecordMaxAge(d time.Duration) Option {
	return func(e *Engine) {
		e.maxAge = d
	}
}

// New creates an engine over a loaded record store.
func New(store *record.Store, rec Recognizer, resp Responder, out Outbound, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		recognizer: rec,
		responder:  resp,
		outbound:   out,
		clock:      NewClock(),
		traces:     UUIDv7Generator{},
		logger:     slog.Default(),
		now:        time.Now,
		maxAge:     DefaultRecordMaxAge,
		sem:        semaphore.NewWeighted(DefaultMaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
		lanes:      make(map[int64]*eventQueue),
		accepted:   make(map[record.Key]uint64),
		pending:    make(map[record.Key]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's record store. Callers must treat it as
// read-only.
func (e *Engine) Store() *record.Store {
	return e.store
}

// Submit accepts an inbound event for processing.
// Thread-safe: may be called from any goroutine; never blocks on I/O.
//
// The event is stamped with the next version for its message, which makes
// every earlier, still-pending event for that message stale. Returns
// ErrDraining once Drain has been called.
func (e *Engine) Submit(ev Event) error {
	if ev.Type != EventNew && ev.Type != EventEdited {
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
	key := record.Key{ChatID: ev.ChatID, MessageID: ev.MessageID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.draining {
		return ErrDraining
	}

	v := e.accepted[key]
	if rec, ok := e.store.Find(ev.ChatID, ev.MessageID); ok && rec.Version > v {
		v = rec.Version
	}
	ev.Version = v + 1
	e.accepted[key] = ev.Version
	e.pending[key]++
	if ev.TraceID == "" {
		ev.TraceID = e.traces.Generate()
	}

	q, ok := e.lanes[ev.ChatID]
	if !ok {
		q = newEventQueue()
		e.lanes[ev.ChatID] = q
		e.wg.Add(1)
		go e.runLane(ev.ChatID, q)
	}
	q.Enqueue(ev)

	e.logger.Debug("event accepted",
		"type", ev.Type,
		"chat_id", ev.ChatID,
		"message_id", ev.MessageID,
		"version", ev.Version,
		"trace_id", ev.TraceID,
	)
	return nil
}

// runLane processes one chat's events in arrival order and retires the lane
// once its queue is empty.
func (e *Engine) runLane(chatID int64, q *eventQueue) {
	defer e.wg.Done()

	for {
		ev, ok := q.TryDequeue()
		if !ok {
			e.mu.Lock()
			if q.Len() == 0 {
				q.Close()
				delete(e.lanes, chatID)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			continue
		}
		e.process(e.ctx, ev)
	}
}

// Drain stops accepting events, waits for every lane to finish, and writes
// a final snapshot.
//
// If ctx expires first, in-flight responder and platform calls are
// cancelled; their records keep their prior state. Drain then still waits
// for the lanes to exit and returns ctx.Err().
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	lanes := len(e.lanes)
	e.mu.Unlock()

	e.logger.Info("engine draining", "lanes", lanes)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("drain deadline reached, cancelling in-flight calls")
		e.cancel()
		<-done
		err = ctx.Err()
	}
	e.cancel()

	if perr := e.persist(); perr != nil && err == nil {
		err = perr
	}
	e.logger.Info("engine drained", "records", e.store.Len())
	return err
}

// Draining reports whether Drain has been called.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// Idle reports whether no events are queued or in flight.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) == 0 && len(e.lanes) == 0
}

// superseded reports whether a newer event for the same message has been
// accepted since ev.
func (e *Engine) superseded(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted[record.Key{ChatID: ev.ChatID, MessageID: ev.MessageID}] != ev.Version
}

// release drops bookkeeping for a message with no pending events. The next
// event for it is versioned from its stored record.
func (e *Engine) release(ev Event) {
	key := record.Key{ChatID: ev.ChatID, MessageID: ev.MessageID}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[key]--
	if e.pending[key] <= 0 {
		delete(e.pending, key)
		delete(e.accepted, key)
	}
}

// persist writes the store if it has unsaved changes. A failure is logged
// and left for the next mutation to retry.
func (e *Engine) persist() error {
	if !e.store.Dirty() {
		return nil
	}
	if err := e.store.SnapshotAndPersist(); err != nil {
		se := &SyncError{Code: ErrCodePersistence, Op: "persist", Err: err}
		e.logger.Warn("record snapshot failed, will retry on next change", "error", se)
		return se
	}
	return nil
}
