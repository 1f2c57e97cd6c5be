package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPollTimeout is the long-poll wait passed to getUpdates.
	DefaultPollTimeout = 30 * time.Second

	// MaxRetries is how many consecutive poll failures are tolerated.
	// Failure n (from 0) waits 2^n seconds before the next attempt.
	MaxRetries = 13

	// ConfirmTimeout bounds the final acknowledging getUpdates call.
	ConfirmTimeout = 5 * time.Second
)

// Source is the update feed the poller reads. *Client implements it.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller feeds updates to a handler until its context is cancelled.
type Poller struct {
	src         Source
	logger      *slog.Logger
	timeout     time.Duration
	backoffUnit time.Duration
	onError     func(err error, attempt int)
	offset      int64
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollTimeout sets the long-poll wait. Non-positive values keep the
// default; a zero wait is reserved for Confirm.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBackoffUnit scales the 2^n backoff. Tests use milliseconds.
func WithBackoffUnit(d time.Duration) PollerOption {
	return func(p *Poller) { p.backoffUnit = d }
}

// WithErrorReporter is called for every poll failure, before backing off.
func WithErrorReporter(fn func(err error, attempt int)) PollerOption {
	return func(p *Poller) { p.onError = fn }
}

func NewPoller(src Source, opts ...PollerOption) *Poller {
	p := &Poller{
		src:         src,
		logger:      slog.Default(),
		timeout:     DefaultPollTimeout,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled (returns nil) or MaxRetries consecutive
// failures occur (returns the last error). handle is called once per update,
// in order, on the polling goroutine.
func (p *Poller) Run(ctx context.Context, handle func(context.Context, Update)) error {
	retried := 0
	for {
		updates, err := p.src.GetUpdates(ctx, p.offset, p.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if p.onError != nil {
				p.onError(err, retried)
			}
			p.logger.Warn("telegram poll failed", "retried", retried, "error", err)
			if retried >= MaxRetries {
				return fmt.Errorf("polling gave up after %d retries: %w", retried, err)
			}
			delay := p.backoffUnit << retried
			retried++
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		retried = 0
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.logger.Debug("handling update", "update_id", u.UpdateID)
			handle(ctx, u)
		}
	}
}

// Offset returns the next update id the poller will ask for.
func (p *Poller) Offset() int64 {
	return p.offset
}

// Confirm acknowledges every update handled so far by asking for the current
// offset without waiting. Run's context is usually cancelled before its next
// request goes out, so without this the last update (typically the admin's
// /shutdown) would be delivered again after a restart.
//
// The updates returned by the call are not handled; they stay unconfirmed.
func (p *Poller) Confirm(ctx context.Context) error {
	if p.offset == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ConfirmTimeout)
	defer cancel()
	if _, err := p.src.GetUpdates(ctx, p.offset, 0); err != nil {
		return fmt.Errorf("confirm updates before %d: %w", p.offset, err)
	}
	return nil
}
