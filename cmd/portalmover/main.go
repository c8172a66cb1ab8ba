// Command portalmover stages portal configuration records and imports them
// into a target environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/markduk/portalmover/internal/cli"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Version = version

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands report their own failures. Anything else is a usage
		// error from flag or argument parsing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
