// Command scenebridge runs and inspects scene state reconciliation.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/scenebridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
