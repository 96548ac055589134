package align

import (
	"context"
	"errors"
)

// Registration failures. Callers match them with errors.Is; the engine wraps
// them with context via fmt.Errorf.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientGeometry  = errors.New("insufficient geometry")
	ErrNoSeedFound           = errors.New("no seed pose found")
	ErrNoCorrespondenceFound = errors.New("no correspondence found")
)

// Coordinator usage errors. These reject a request without touching the
// attempt state.
var (
	ErrBusy            = errors.New("alignment stage already running")
	ErrNotReady        = errors.New("model and scan must be prepared first")
	ErrAttemptFinished = errors.New("alignment attempt already finished")
)

// FailureKind classifies why an alignment attempt failed.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailureInvalidInput          FailureKind = "invalidInput"
	FailureInsufficientGeometry  FailureKind = "insufficientGeometry"
	FailureNoSeedFound           FailureKind = "noSeedFound"
	FailureNoCorrespondenceFound FailureKind = "noCorrespondenceFound"
	FailureCancelled             FailureKind = "cancelled"
	FailureInternal              FailureKind = "internal"
)

// FailureKindOf maps an engine error onto its failure kind.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	case errors.Is(err, ErrInvalidInput):
		return FailureInvalidInput
	case errors.Is(err, ErrInsufficientGeometry):
		return FailureInsufficientGeometry
	case errors.Is(err, ErrNoSeedFound):
		return FailureNoSeedFound
	case errors.Is(err, ErrNoCorrespondenceFound):
		return FailureNoCorrespondenceFound
	default:
		return FailureInternal
	}
}
