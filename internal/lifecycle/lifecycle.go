// Package lifecycle decides when the bot stops and drives the shutdown
// sequence.
//
// A Controller moves through Running → Draining → Stopped exactly once.
// Three signals start the sequence:
//
//   - the admin sends /shutdown in a private chat (HandleCommand)
//   - the upgrade marker file appears or is modified
//   - the context passed to Run is cancelled (process signals)
//
// Shutdown stops intake, drains the engine, tells the admin "bye", and
// closes Done.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// State is the controller's position in the shutdown sequence.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// ShutdownCommand is the admin-only command that stops the bot.
	ShutdownCommand = "/shutdown"

	// ShutdownReply answers an accepted shutdown command.
	ShutdownReply = "start shutting down..."

	// ByeMessage is sent to the admin once draining has finished.
	ByeMessage = "bye"

	DefaultPollInterval = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

// Config is the controller's explicit configuration.
type Config struct {
	// AdminID is the only sender allowed to issue ShutdownCommand, and the
	// recipient of the bye notice. 0 disables both.
	AdminID int64

	// MarkerPath is the upgrade marker file. Empty disables marker checks.
	MarkerPath string

	PollInterval time.Duration
	DrainTimeout time.Duration
}

// Drainer finishes in-flight work. The engine implements it.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Sender delivers messages on the platform.
type Sender interface {
	Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error)
}

// Message is the subset of an inbound message the controller inspects.
type Message struct {
	ChatID    int64
	MessageID int64
	SenderID  int64
	Private   bool
	Text      string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithStopIntake registers a hook run when draining begins, before the
// drainer is called. The bot uses it to stop polling for updates.
func WithStopIntake(fn func()) Option {
	return func(c *Controller) {
		c.stopIntake = fn
	}
}

// Controller owns the Running → Draining → Stopped state machine.
type Controller struct {
	cfg        Config
	drainer    Drainer
	sender     Sender
	logger     *slog.Logger
	stopIntake func()

	state    atomic.Int32
	requests chan string
	done     chan struct{}

	mu       sync.Mutex
	marker   markerState
	drainErr error
}

// markerState is what the controller last saw at MarkerPath.
type markerState struct {
	exists  bool
	modTime time.Time
	size    int64
}

// New creates a controller in StateRunning.
func New(cfg Config, drainer Drainer, sender Sender, opts ...Option) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	c := &Controller{
		cfg:      cfg,
		drainer:  drainer,
		sender:   sender,
		logger:   slog.Default(),
		requests: make(chan string, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.marker = c.statMarker()
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done is closed once the controller reaches StateStopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the drain error, if any, after Done is closed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainErr
}

// HandleCommand consumes the admin shutdown command. It returns false for
// everything else, including /shutdown from anyone but the admin or outside a
// private chat, so that the message continues through normal processing.
func (c *Controller) HandleCommand(ctx context.Context, msg Message) bool {
	if strings.TrimSpace(msg.Text) != ShutdownCommand {
		return false
	}
	if !msg.Private || c.cfg.AdminID == 0 || msg.SenderID != c.cfg.AdminID {
		return false
	}

	if c.State() == StateRunning {
		if _, err := c.sender.Send(ctx, msg.ChatID, msg.MessageID, ShutdownReply); err != nil {
			c.logger.Warn("failed to acknowledge shutdown", "error", err)
		}
	}
	c.RequestStop("admin command")
	return true
}

// RequestStop asks Run to begin shutting down. Extra requests are ignored.
func (c *Controller) RequestStop(reason string) {
	select {
	case c.requests <- reason:
	default:
	}
}

// Run waits for a stop signal, then performs the shutdown sequence and
// returns the drain error. It is the controller's event loop: the marker
// poll ticker, filesystem notifications, and stop requests are all served
// here.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w := c.watch(); w != nil {
		defer w.Close()
		events, errs = w.Events, w.Errors
	}

	var reason string
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "context cancelled"
			break loop
		case reason = <-c.requests:
			break loop
		case <-ticker.C:
			if c.markerChanged() {
				reason = "upgrade marker"
				break loop
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == filepath.Base(c.cfg.MarkerPath) && c.markerChanged() {
				reason = "upgrade marker"
				break loop
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("marker watch error", "error", err)
		}
	}

	return c.shutdown(reason)
}

// watch sets up a notification on the marker's directory. The ticker still
// covers filesystems where notifications are unavailable.
func (c *Controller) watch() *fsnotify.Watcher {
	if c.cfg.MarkerPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("marker watch unavailable", "error", err)
		return nil
	}
	dir := filepath.Dir(c.cfg.MarkerPath)
	if err := w.Add(dir); err != nil {
		c.logger.Warn("marker watch unavailable", "dir", dir, "error", err)
		w.Close()
		return nil
	}
	return w
}

func (c *Controller) shutdown(reason string) error {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return errors.New("lifecycle: shutdown already started")
	}
	c.logger.Info("shutting down", "reason", reason)

	if c.stopIntake != nil {
		c.stopIntake()
	}

	// The Run context may already be cancelled; draining gets its own budget.
	drainCtx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
	err := c.drainer.Drain(drainCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("drain: %w", err)
		c.logger.Error("drain incomplete", "error", err)
	}

	if c.cfg.AdminID != 0 {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, sendErr := c.sender.Send(notifyCtx, c.cfg.AdminID, 0, ByeMessage); sendErr != nil {
			c.logger.Warn("failed to notify admin", "error", sendErr)
		}
		cancel()
	}

	c.mu.Lock()
	c.drainErr = err
	c.mu.Unlock()

	c.state.Store(int32(StateStopped))
	close(c.done)
	c.logger.Info("stopped")
	return err
}

func (c *Controller) statMarker() markerState {
	if c.cfg.MarkerPath == "" {
		return markerState{}
	}
	info, err := os.Stat(c.cfg.MarkerPath)
	if err != nil {
		return markerState{}
	}
	return markerState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// markerChanged reports whether the marker appeared or was modified since
// the controller was created.
func (c *Controller) markerChanged() bool {
	cur := c.statMarker()
	if !cur.exists {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.marker
	if prev.exists && prev.modTime.Equal(cur.modTime) && prev.size == cur.size {
		return false
	}
	c.marker = cur
	return true
}
