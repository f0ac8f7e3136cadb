// Command crr manages replicas of convergent replicated relations.
package main

import (
	"os"

	"github.com/roach88/crr/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
