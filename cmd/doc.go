// Package cmd contains the command-line interface (CLI) definitions and execution logic for imagemeta.
// It provides the root command and subcommands for querying image registries, comparing manifests,
// copying images, and watching tags for digest changes.
//
// Key components:
//   - rootCmd: Root command carrying registry and logging flags.
//   - inspect, digest, tags: Subcommands for fetching image metadata.
//   - compare: Subcommand for manifest equality, multi-arch containment, and base-image checks.
//   - copy: Subcommand wrapping skopeo for registry-to-registry copies.
//   - watch: Subcommand that periodically re-resolves digests and reports changes.
//
// Usage examples:
//   - Run the CLI from main.go:
//     cmd.Execute()
//   - Resolve a tag to its digest:
//     imagemeta digest quay.io/app-sre/ubi8-ubi:latest
//
// The package integrates with the registry, skopeo, and flags packages,
// using Cobra for CLI parsing and logrus for logging.
package cmd
