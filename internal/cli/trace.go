package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/evalbot/internal/config"
	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string // journal file; overrides journal_path from config
	Chat     int64
	Message  int64
	Trace    string
	Limit    int
}

// TraceResult holds the trace output.
type TraceResult struct {
	Transitions []engine.Transition `json:"transitions"`
	Stats       TraceStats          `json:"stats"`
}

// TraceStats summarizes the listed transitions.
type TraceStats struct {
	Total    int            `json:"total"`
	ByAction map[string]int `json:"by_action"`
	Failures int            `json:"failures"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled record transitions",
		Long: `Show what the bot did with command messages, in order.

Every send, edit, delete, and failure is journaled with the trace id of the
event that caused it. Filter by chat, message, or trace id.

Examples:
  evalbot trace --chat 42 --message 1017
  evalbot trace --trace 0191d3a0-...
  evalbot trace --limit 50 --format json
  evalbot trace prune --older-than 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "journal database (default: journal_path from config)")
	cmd.Flags().Int64Var(&opts.Chat, "chat", 0, "filter to one chat")
	cmd.Flags().Int64Var(&opts.Message, "message", 0, "filter to one command message")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "filter to one trace id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the newest N transitions")

	cmd.AddCommand(newTracePruneCommand(opts))
	return cmd
}

// openJournal opens an existing journal. Unlike journal.Open it refuses to
// create a new database.
func openJournal(opts *TraceOptions) (*journal.Journal, error) {
	path := opts.Database
	if path == "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.JournalPath
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "journal is disabled (journal_path is empty)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	j, err := openJournal(opts)
	if err != nil {
		return err
	}
	defer j.Close()

	transitions, err := j.List(context.Background(), journal.Filter{
		ChatID:    opts.Chat,
		MessageID: opts.Message,
		TraceID:   opts.Trace,
		Limit:     opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query journal", err)
	}

	result := TraceResult{
		Transitions: transitions,
		Stats:       TraceStats{Total: len(transitions), ByAction: map[string]int{}},
	}
	for _, t := range transitions {
		result.Stats.ByAction[string(t.Action)]++
		if t.Action == engine.ActionFailed {
			result.Stats.Failures++
		}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	outputTraceText(cmd, result, opts.Verbose)
	return nil
}

func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) {
	w := cmd.OutOrStdout()

	if result.Stats.Total == 0 {
		fmt.Fprintln(w, "No transitions found.")
		return
	}

	for _, t := range result.Transitions {
		line := fmt.Sprintf("%6d  %s  %d/%d v%d  %s",
			t.Seq, dimStyle.Sprint(t.At.UTC().Format(time.RFC3339)),
			t.ChatID, t.MessageID, t.Version, actionStyle(t.Action))
		if t.ReplyID != 0 {
			line += fmt.Sprintf("  reply=%d", t.ReplyID)
		}
		if t.Detail != "" {
			line += "  " + t.Detail
		}
		if verbose {
			line += dimStyle.Sprintf("  trace=%s", t.TraceID)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d transition(s), %d failure(s)\n", result.Stats.Total, result.Stats.Failures)
}

func actionStyle(a engine.Action) string {
	s := fmt.Sprintf("%-10s", a)
	switch a {
	case engine.ActionFailed:
		return failStyle.Sprint(s)
	case engine.ActionNotice, engine.ActionSuperseded, engine.ActionEvict:
		return warnStyle.Sprint(s)
	case engine.ActionSend, engine.ActionEdit:
		return okStyle.Sprint(s)
	default:
		return s
	}
}

// PruneResult is the JSON payload of trace prune.
type PruneResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

func newTracePruneCommand(opts *TraceOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete journal entries older than a duration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return NewExitError(ExitCommandError, "--older-than must be positive")
			}
			j, err := openJournal(opts)
			if err != nil {
				return err
			}
			defer j.Close()

			cutoff := time.Now().Add(-olderThan).UTC()
			n, err := j.Prune(context.Background(), cutoff)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to prune journal", err)
			}

			if opts.Format == "json" {
				return newFormatter(opts.RootOptions, cmd).Success(PruneResult{Cutoff: cutoff, Deleted: n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d transition(s) before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of entries to delete")
	return cmd
}

