// Command activity-audit reconciles per-repository commit and issue counts
// from a bulk export against the GitHub API as of a cutoff day.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
