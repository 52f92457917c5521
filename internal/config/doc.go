// Package config holds the run-level configuration for the harness.
//
// # Configuration Precedence
//
// Behavioral settings are resolved in the following order (highest to lowest
// priority):
//
//  1. CLI flags (--workers, --cache, --output, etc.)
//  2. Environment variables (ECOTEST_ROOT)
//  3. YAML config file (.ecotest.yaml in the root directory)
//  4. Hardcoded defaults
//
// # Run parameters vs. harness settings
//
// The package distinguishes two kinds of configuration:
//
//   - RunConfig: the parameters of a single run (mode, interpreter version,
//     latest pinning, unsafe execution). Persisted as parameters.json in the
//     run directory, written once before any job is dispatched, and
//     equality-compared before two runs may be diffed.
//   - HarnessConfig: operator preferences (worker count, extra package
//     exclusions) that do not affect comparability and are never persisted
//     into run directories.
//
// Paths derives every corpus and cache location from a single root directory
// so that the filesystem layout is an explicit, testable input rather than
// process-global state.
package config
