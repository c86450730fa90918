// File: internal/solver/errors.go
package solver

import "errors"

// Sentinel errors for the attempt phases. The state machine wraps them so
// callers can distinguish what went wrong with errors.Is while the message
// keeps the step context.
var (
	// ErrClassification reports that no tier produced a usable plan.
	ErrClassification = errors.New("classification failed")

	// ErrExecution reports that the plan's actions could not be applied.
	ErrExecution = errors.New("plan execution failed")

	// ErrExtractionMiss reports that every strategy came up empty. It is an
	// attempt-level miss, not a fault; the attempt retries.
	ErrExtractionMiss = errors.New("no code extracted")

	// ErrSubmission reports that the code could not be entered or submitted.
	ErrSubmission = errors.New("code submission failed")

	// ErrVerification reports that the URL never advanced after submission.
	ErrVerification = errors.New("step advance not verified")

	// ErrStepAbandoned reports that a step used up all attempts. The run
	// cannot continue past it; steps are strictly sequential.
	ErrStepAbandoned = errors.New("step abandoned after max attempts")
)
