// Command evalbot runs the chat bot and its operator tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/evalbot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
