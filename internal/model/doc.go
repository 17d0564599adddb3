// Package model defines the domain types and value objects for the
// hidream-installer CLI.
//
// This package contains pure data structures with no external dependencies.
// Every entity (RepositoryState, EnvironmentState, RuntimeLibrarySpec,
// InstallResult, etc.) is transient: it is re-derived from the filesystem
// on each run, and nothing is written to a state file.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
