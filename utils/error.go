package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrAlreadyInspected means the (machine, operating date, shift) ledger slot is
// already taken. Recoverable by waiting for the next shift.
var ErrAlreadyInspected = errors.New("machine has already been inspected this shift")

// ErrIncompleteSubmission marks a submission missing a required piece
// (item result, issue text on a failed item, required image). Wrap it with the
// missing piece so the caller can show an actionable message.
var ErrIncompleteSubmission = errors.New("incomplete submission")

// ErrUnauthorized means the actor's role does not permit the requested action.
var ErrUnauthorized = errors.New("actor role does not permit this action")

// ErrInvalidTransition is the sentinel all InvalidTransitionError values unwrap to.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrStorageUnavailable marks storage-layer failures (connectivity, timeout).
// Never conflated with ErrAlreadyInspected: the caller must be able to tell
// "someone else already inspected this" from "the store is down, retry".
var ErrStorageUnavailable = errors.New("storage unavailable")

// InvalidTransitionError names the current and requested states so the caller
// can tell the actor to refresh and retry with a valid action.
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: machine is %q, requested %q", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func NewInvalidTransition(current, requested string) error {
	return &InvalidTransitionError{Current: current, Requested: requested}
}
