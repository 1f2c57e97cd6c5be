package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evalbot/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	RequireToken bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	File     string         `json:"file,omitempty"`
	Problems []string       `json:"problems,omitempty"`
	Config   *config.Config `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration without starting the bot",
		Long: `Load the config file and EVALBOT_* environment overrides, and check the
result against the configuration schema.

With --verbose the effective configuration is printed, token redacted.

Examples:
  evalbot validate
  evalbot validate --config ./evalbot.yaml --require-token
  evalbot validate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.RequireToken, "require-token", false, "also fail when no bot token is set")
	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err == nil && opts.RequireToken {
		err = cfg.RequireToken()
	}

	var ve *config.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		return outputInvalid(formatter, ValidationResult{File: opts.Config, Problems: ve.Problems})
	default:
		_ = formatter.Error("E_CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	redacted := cfg.Redacted()
	result := ValidationResult{Valid: true, File: cfg.File}
	if opts.Verbose {
		result.Config = &redacted
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	source := cfg.File
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(w, "%s config valid (%s)\n", Mark(true), source)
	if opts.Verbose {
		printConfig(formatter, redacted)
	}
	return nil
}

func outputInvalid(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		if err := formatter.Error("E_INVALID_CONFIG", "configuration is invalid", result.Problems); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "%s config invalid\n", Mark(false))
		for _, p := range result.Problems {
			fmt.Fprintf(formatter.Writer, "  %s\n", p)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d config problem(s)", len(result.Problems)))
}

func printConfig(formatter *OutputFormatter, c config.Config) {
	formatter.VerboseLog("token:             %s", c.Token)
	formatter.VerboseLog("admin_id:          %d", c.AdminID)
	formatter.VerboseLog("records_path:      %s", c.RecordsPath)
	formatter.VerboseLog("journal_path:      %s", c.JournalPath)
	formatter.VerboseLog("upgrade_marker:    %s", c.UpgradeMarker)
	formatter.VerboseLog("poll_interval:     %s", c.PollInterval)
	formatter.VerboseLog("drain_timeout:     %s", c.DrainTimeout)
	formatter.VerboseLog("responder_timeout: %s", c.ResponderTimeout)
	formatter.VerboseLog("max_concurrent:    %d", c.MaxConcurrent)
	formatter.VerboseLog("record_max_age:    %s", c.RecordMaxAge)
	formatter.VerboseLog("log_level:         %s", c.LogLevel)
	formatter.VerboseLog("telegram.base_url: %s", c.Telegram.BaseURL)
	formatter.VerboseLog("playground.url:    %s", c.Playground.URL)
	formatter.VerboseLog("registry.url:      %s", c.Registry.URL)
	formatter.VerboseLog("docs.path:         %s", c.Docs.Path)
}
