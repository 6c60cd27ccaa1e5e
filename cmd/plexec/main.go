package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/plexec/plexec/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "plexec:", err)
		var ee *cli.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		os.Exit(cli.ExitFailure)
	}
}
