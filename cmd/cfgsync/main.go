// cfgsync imports staged configuration into the active configuration
// store, honouring per-object ignore policies.
package main

import (
	"fmt"
	"os"

	"github.com/xtxerr/cfgsync/internal/errors"
)

// Exit codes.
const (
	exitFailure    = 1
	exitValidation = 2
	exitFatal      = 3
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode lets scripts tell a rejected import, which changed nothing,
// from one that stopped part way.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsValidation(err):
		return exitValidation
	case errors.IsFatal(err):
		return exitFatal
	default:
		return exitFailure
	}
}
