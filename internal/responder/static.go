package responder

import (
	"context"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/version"
)

// About answers /about with the bot's name, version, and homepage.
func About() Responder {
	return Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		return Reply{Text: version.String() + "\n" + version.Homepage}, nil
	})
}

// Help answers /help with the list of commands.
func Help() Responder {
	return Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		return Reply{Text: command.HelpText(cmd.Private)}, nil
	})
}

// DocsUnavailable answers /doc when no documentation index was loaded.
func DocsUnavailable() Responder {
	return Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		return Reply{Text: "(documentation index not loaded)"}, nil
	})
}
