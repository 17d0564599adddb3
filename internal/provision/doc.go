// Package provision runs the environment setup workflow: it syncs the
// application checkout, ensures the virtual environment, bootstraps the
// packaging tooling, installs the platform's pinned runtime libraries and
// the application requirements, and verifies the result.
//
// Every step is gated on state read back from the filesystem, so running
// the workflow again on a provisioned directory converges to the same
// result. The first fatal step failure stops the run and is reported as a
// *model.CLIError carrying the step's exit code.
package provision
