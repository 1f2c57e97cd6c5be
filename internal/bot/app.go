package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/config"
	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/journal"
	"github.com/roach88/evalbot/internal/lifecycle"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/responder"
	"github.com/roach88/evalbot/internal/telegram"
	"github.com/roach88/evalbot/internal/version"
)

// Platform is the Bot API surface the app uses. *telegram.Client
// implements it.
type Platform interface {
	engine.Outbound
	telegram.Source
	GetMe(ctx context.Context) (telegram.User, error)
}

// StartMessage is sent to the admin when the bot comes up.
func StartMessage(username string) string {
	return fmt.Sprintf("Start version: %s\nbot @%s", version.Version, username)
}

// App is a fully wired bot process.
type App struct {
	cfg      *config.Config
	platform Platform
	logger   *slog.Logger
	me       telegram.User

	store      *record.Store
	journal    *journal.Journal
	docs       *responder.Docs
	engine     *engine.Engine
	controller *lifecycle.Controller
	poller     *telegram.Poller
	dispatcher *Dispatcher

	pollCtx  context.Context
	stopPoll context.CancelFunc
}

// New loads persisted state and wires every component. A record file that
// exists but cannot be read is fatal.
func New(ctx context.Context, cfg *config.Config, platform Platform, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, platform: platform, logger: logger}

	me, err := platform.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("identify bot: %w", err)
	}
	a.me = me
	logger.Info("bot identified", "username", me.Username, "id", me.ID)

	a.store, err = record.Load(cfg.RecordsPath)
	if err != nil {
		return nil, err
	}
	if n := a.store.PruneDead(); n > 0 {
		logger.Info("pruned dead records", "count", n)
	}
	logger.Info("records loaded", "path", cfg.RecordsPath, "count", a.store.Len())

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxConcurrent(cfg.MaxConcurrent),
		engine.WithRecordMaxAge(cfg.RecordMaxAge),
	}
	if cfg.JournalPath != "" {
		a.journal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		seq, err := a.journal.LastSeq(ctx)
		if err != nil {
			a.journal.Close()
			return nil, err
		}
		opts = append(opts, engine.WithJournal(a.journal), engine.WithClock(engine.NewClockAt(seq)))
	}

	router, docs, err := NewRouter(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.docs = docs

	a.engine = engine.New(a.store, command.NewRecognizer(me.Username), router, platform, opts...)

	a.pollCtx, a.stopPoll = context.WithCancel(context.Background())
	a.controller = lifecycle.New(lifecycle.Config{
		AdminID:      cfg.AdminID,
		MarkerPath:   cfg.UpgradeMarker,
		PollInterval: cfg.PollInterval,
		DrainTimeout: cfg.DrainTimeout,
	}, a.engine, platform,
		lifecycle.WithLogger(logger),
		lifecycle.WithStopIntake(a.stopPoll))

	a.poller = telegram.NewPoller(platform,
		telegram.WithPollLogger(logger),
		telegram.WithPollTimeout(cfg.Telegram.PollTimeout),
		telegram.WithErrorReporter(a.reportPollError))
	a.dispatcher = NewDispatcher(a.engine, a.controller, logger)
	return a, nil
}

// NewRouter registers one collaborator per command kind. The returned Docs
// is nil when no documentation file is configured.
func NewRouter(cfg *config.Config, logger *slog.Logger) (*responder.Router, *responder.Docs, error) {
	router := responder.NewRouter(cfg.ResponderTimeout, logger)

	playground := responder.NewPlayground(cfg.Playground.URL, nil)
	router.Handle(command.KindEval, playground)
	router.Handle(command.KindVersion, playground)
	router.Handle(command.KindCrate, responder.NewRegistry(cfg.Registry.URL, nil, cfg.Registry.CacheSize))
	router.Handle(command.KindAbout, responder.About())
	router.Handle(command.KindHelp, responder.Help())

	var docs *responder.Docs
	if cfg.Docs.Path != "" {
		var err error
		docs, err = responder.LoadDocs(cfg.Docs.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("load docs: %w", err)
		}
		router.Handle(command.KindDoc, docs)
		logger.Info("documentation index loaded", "items", docs.Len())
	} else {
		router.Handle(command.KindDoc, responder.DocsUnavailable())
	}
	return router, docs, nil
}

// Engine exposes the engine for inspection.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Controller exposes the lifecycle controller.
func (a *App) Controller() *lifecycle.Controller {
	return a.controller
}

// Run serves updates until the lifecycle controller stops. Cancelling ctx
// starts a graceful shutdown. Returns the polling error if polling gave up,
// otherwise the drain error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.notifyAdmin(ctx, StartMessage(a.me.Username))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.poller.Run(a.pollCtx, a.dispatcher.HandleUpdate)
		if err != nil {
			a.controller.RequestStop("polling failed")
		}
		return err
	})
	g.Go(func() error {
		return a.controller.Run(gctx)
	})

	err := g.Wait()
	a.stopPoll()
	if cerr := a.poller.Confirm(context.Background()); cerr != nil {
		a.logger.Warn("failed to confirm handled updates", "error", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) close() {
	if a.stopPoll != nil {
		a.stopPoll()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failed to close journal", "error", err)
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.logger.Warn("failed to close docs index", "error", err)
		}
	}
}

func (a *App) notifyAdmin(ctx context.Context, text string) {
	if a.cfg.AdminID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := a.platform.Send(ctx, a.cfg.AdminID, 0, text); err != nil {
		a.logger.Warn("failed to notify admin", "error", err)
	}
}

// reportPollError forwards the first and the final failure of a streak to
// the admin.
func (a *App) reportPollError(err error, attempt int) {
	if attempt != 0 && attempt != telegram.MaxRetries {
		return
	}
	a.notifyAdmin(context.Background(), html.EscapeString(err.Error()))
}
