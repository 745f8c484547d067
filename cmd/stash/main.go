// Stash is a bot that keeps per-user encrypted record repositories. It
// serves sessions over websockets (stash serve), in the terminal (stash
// console), and scaffolds its data directory (stash init).
package main

import (
	"fmt"
	"os"
)

// version is overridden at build time with -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
