package main

import (
	"provision-host/cmd" // CLI commands and execution logic
)

// main delegates to cmd.Execute(), which owns argument parsing and command
// dispatch.
//
// provision-host automates Linux/macOS host setup:
//   - Detects the distribution, version, family, and architecture through an
//     ordered chain of strategies with legacy fallbacks
//   - Resolves an available package manager for the detected family and
//     abstracts its commands behind static templates
//   - Translates generic tool names from a declarative catalog into the
//     native package identifiers of the resolved manager
//   - Installs tools batch-first with per-tool individual fallback, deciding
//     every outcome from presence re-checks rather than exit codes, then runs
//     a separate functional-verification pass
//
// Error handling strategy: per-tool failures are collected into the run
// record and reported at the end; only an unidentifiable system, a missing
// package manager, or an unloadable catalog aborts a run.
func main() {
	cmd.Execute()
}
