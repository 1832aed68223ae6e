// Command moted runs the dialog orchestration runtime: the driver loop, the
// special-call executor, and the control and streaming gateway.
package main

import (
	"fmt"
	"os"

	"dominds/internal/cli"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.GitCommit = gitCommit
	cli.BuildTime = buildTime

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "moted:", err)
		os.Exit(1)
	}
}
