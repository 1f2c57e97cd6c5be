package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/evalbot/internal/bot"
	"github.com/roach88/evalbot/internal/config"
	"github.com/roach88/evalbot/internal/telegram"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// NewPlatform overrides the Telegram client (for testing).
	// If nil, a telegram.Client is built from the config.
	NewPlatform func(cfg *config.Config) (bot.Platform, error)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		Long: `Start the bot and serve updates until it is told to stop.

The bot stops gracefully on SIGINT/SIGTERM, on /shutdown from the admin in
a private chat, or when the upgrade marker file appears or changes. Pending
commands finish and the record file is written before exit.

Examples:
  EVALBOT_TOKEN=123:abc evalbot run
  evalbot run --config /etc/evalbot/evalbot.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(opts, cmd)
		},
	}

	return cmd
}

func runBot(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)
	slog.SetDefault(logger)
	if cfg.File != "" {
		logger.Info("config loaded", "file", cfg.File)
	}

	newPlatform := opts.NewPlatform
	if newPlatform == nil {
		newPlatform = telegramPlatform
	}
	platform, err := newPlatform(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create platform client", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bot.New(ctx, cfg, platform, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start bot", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Bot started. Press Ctrl-C to stop.")
	if err := app.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "bot stopped with error", err)
	}

	logger.Info("bot stopped gracefully")
	return nil
}

func telegramPlatform(cfg *config.Config) (bot.Platform, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	return telegram.NewClient(cfg.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL)), nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
