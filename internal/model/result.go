package model

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowState is the position of a provisioning run in its linear
// state machine:
//
//	NotStarted → RepoSynced → EnvReady → ToolingReady →
//	RuntimeInstalled → DepsInstalled → Verified
//
// Any non-terminal state may move to Failed. There are no back edges.
type WorkflowState string

const (
	StateNotStarted       WorkflowState = "not-started"
	StateRepoSynced       WorkflowState = "repo-synced"
	StateEnvReady         WorkflowState = "env-ready"
	StateToolingReady     WorkflowState = "tooling-ready"
	StateRuntimeInstalled WorkflowState = "runtime-installed"
	StateDepsInstalled    WorkflowState = "deps-installed"
	StateVerified         WorkflowState = "verified"
	StateFailed           WorkflowState = "failed"
)

// workflowOrder lists the forward states in transition order.
var workflowOrder = []WorkflowState{
	StateNotStarted,
	StateRepoSynced,
	StateEnvReady,
	StateToolingReady,
	StateRuntimeInstalled,
	StateDepsInstalled,
	StateVerified,
}

// String returns the string representation of WorkflowState.
func (s WorkflowState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s WorkflowState) IsTerminal() bool {
	return s == StateVerified || s == StateFailed
}

// Next returns the state that directly follows s, or "" for terminal
// and unknown states.
func (s WorkflowState) Next() WorkflowState {
	for i, st := range workflowOrder {
		if st == s && i+1 < len(workflowOrder) {
			return workflowOrder[i+1]
		}
	}
	return ""
}

// CanTransition reports whether moving from s to next is legal.
func (s WorkflowState) CanTransition(next WorkflowState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return next != "" && s.Next() == next
}

// StepOutcome is the result class of a single workflow step. It replaces
// ad-hoc error suppression with an explicit distinction between "nothing
// to do", "failed but tolerated", and "failed, abort".
type StepOutcome string

const (
	// OutcomeDone means the step ran its action successfully.
	OutcomeDone StepOutcome = "done"

	// OutcomeSkipped means the step's precondition was already satisfied
	// (or the step does not apply on this platform).
	OutcomeSkipped StepOutcome = "skipped"

	// OutcomeWarning means the step failed but the failure is tolerated.
	OutcomeWarning StepOutcome = "warning"

	// OutcomeFailed means the step failed fatally; the run aborts.
	OutcomeFailed StepOutcome = "failed"
)

// String returns the string representation of StepOutcome.
func (o StepOutcome) String() string {
	return string(o)
}

// StepResult records what one workflow step did.
type StepResult struct {
	// Name identifies the step (e.g. "sync-repository").
	Name string

	// Outcome is the result class of the step.
	Outcome StepOutcome

	// Detail is a short human-readable note (e.g. "cloned", "reused").
	Detail string

	// Commands holds the command lines the step executed, in order.
	Commands []string

	// Err is the failure cause for OutcomeWarning and OutcomeFailed.
	Err error

	// Elapsed is the wall-clock duration of the step.
	Elapsed time.Duration
}

// InstallResult is the outcome of a whole provisioning run.
type InstallResult struct {
	// Platform is the platform the run provisioned for.
	Platform PlatformKind

	// State is the final workflow state.
	State WorkflowState

	// Steps holds one entry per executed step, in order.
	Steps []StepResult
}

// NewInstallResult creates an empty result in StateNotStarted.
func NewInstallResult(platform PlatformKind) *InstallResult {
	return &InstallResult{Platform: platform, State: StateNotStarted}
}

// Advance moves the result to the next workflow state. It returns an
// error for any transition the state machine does not allow.
func (r *InstallResult) Advance(next WorkflowState) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("illegal workflow transition %s → %s", r.State, next)
	}
	r.State = next
	return nil
}

// Add appends a step result.
func (r *InstallResult) Add(step StepResult) {
	r.Steps = append(r.Steps, step)
}

// Succeeded reports whether the run reached StateVerified.
func (r *InstallResult) Succeeded() bool {
	return r.State == StateVerified
}

// Count returns how many steps finished with the given outcome.
func (r *InstallResult) Count(outcome StepOutcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// FailedStep returns the fatal step, if any.
func (r *InstallResult) FailedStep() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Summary returns the one-line status printed at the end of a run.
func (r *InstallResult) Summary() string {
	if failed, ok := r.FailedStep(); ok {
		return fmt.Sprintf("provisioning failed at step %s (platform %s)", failed.Name, r.Platform)
	}

	parts := []string{fmt.Sprintf("%d done", r.Count(OutcomeDone))}
	if n := r.Count(OutcomeSkipped); n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}
	if n := r.Count(OutcomeWarning); n > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", n))
	}
	return fmt.Sprintf("%s on platform %s: %s", r.State, r.Platform, strings.Join(parts, ", "))
}
