package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/evalbot/internal/config"
	"github.com/roach88/evalbot/internal/record"
)

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	File string // record file; overrides records_path from config
	Chat int64  // optional - filter to one chat
}

// RecordsResult is the JSON payload of the records command.
type RecordsResult struct {
	Path    string                 `json:"path"`
	Records []record.CommandRecord `json:"records"`
	Total   int                    `json:"total"`
	Replies int                    `json:"replies"`
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List tracked command records",
		Long: `List the command/reply records persisted by the bot.

Reads the record file named by records_path in the config, or --file.
The file is only read; it is safe to run while the bot is up.

Examples:
  evalbot records
  evalbot records --chat -1001234567890
  evalbot records --file ./record_list.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecords(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "record file (default: records_path from config)")
	cmd.Flags().Int64Var(&opts.Chat, "chat", 0, "only show records of this chat")

	return cmd
}

func runRecords(opts *RecordsOptions, cmd *cobra.Command) error {
	path := opts.File
	if path == "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.RecordsPath
	}

	store, err := record.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load records", err)
	}

	result := RecordsResult{Path: path, Records: []record.CommandRecord{}}
	for _, rec := range store.All() {
		if opts.Chat != 0 && rec.ChatID != opts.Chat {
			continue
		}
		result.Records = append(result.Records, rec)
		if rec.HasReply() {
			result.Replies++
		}
	}
	result.Total = len(result.Records)

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	outputRecordsText(cmd, result)
	return nil
}

func outputRecordsText(cmd *cobra.Command, result RecordsResult) {
	w := cmd.OutOrStdout()

	if result.Total == 0 {
		fmt.Fprintf(w, "No records in %s\n", result.Path)
		return
	}

	fmt.Fprintf(w, "%-16s %-10s %-10s %-8s %s\n", "CHAT", "MESSAGE", "REPLY", "VERSION", "UPDATED")
	for _, rec := range result.Records {
		reply := okStyle.Sprintf("%-10d", rec.ReplyMessageID)
		if !rec.HasReply() {
			reply = warnStyle.Sprintf("%-10s", "-")
		}
		updated := "-"
		if !rec.UpdatedAt.IsZero() {
			updated = rec.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-16d %-10d %s %-8d %s\n",
			rec.ChatID, rec.CommandMessageID, reply, rec.Version, dimStyle.Sprint(updated))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d record(s), %d with a reply\n", result.Total, result.Replies)
}
