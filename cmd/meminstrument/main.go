// Command meminstrument instruments the pointer accesses of a module with
// memory safety checks.
package main

import (
	"os"

	"github.com/roach88/meminstrument/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
