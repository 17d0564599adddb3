package model

import "fmt"

// ExitCode defines the CLI exit codes. Each fatal failure class of the
// provisioning workflow has its own code so that scripts and CI systems
// can tell which step broke without parsing output.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigInvalid indicates the configuration (flags, environment,
	// config file, or runtime pins) was rejected before any step ran.
	ExitConfigInvalid ExitCode = 2

	// ExitRepoSyncFailed indicates the clone, update, or reclone of the
	// application repository failed.
	ExitRepoSyncFailed ExitCode = 3

	// ExitEnvCreateFailed indicates the virtual environment could not be
	// created.
	ExitEnvCreateFailed ExitCode = 4

	// ExitToolingFailed indicates the pip toolchain bootstrap failed.
	ExitToolingFailed ExitCode = 5

	// ExitRuntimeInstallFailed indicates the pinned runtime-library set
	// (or the extension wheel) could not be installed.
	ExitRuntimeInstallFailed ExitCode = 6

	// ExitDependencyInstallFailed indicates an application requirements
	// file failed to install.
	ExitDependencyInstallFailed ExitCode = 7

	// ExitVerifyFailed indicates the tensor library does not import in
	// the provisioned environment.
	ExitVerifyFailed ExitCode = 8
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
