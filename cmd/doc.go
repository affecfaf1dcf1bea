// Package cmd implements the command-line interface of shadowvar. It provides
// commands to try out and measure the local shadow variable store.
//
// The package is organized into several subpackages:
//
//   - demo: Runs example scenarios against a fresh store and prints every step
//   - perf: Concurrent benchmarks of the store operations with latency percentiles
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See shadowvar -help for a list of all commands.
package cmd
