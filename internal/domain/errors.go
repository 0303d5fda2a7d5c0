package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrExpired             = errors.New("request expired")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ConflictError reports a state precondition that no longer held at write
// time. It carries the status and assignee observed by the failed write so
// the caller can resynchronize instead of retrying blindly.
type ConflictError struct {
	Status  RequestStatus
	AdminID string
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.AdminID != "" {
		return fmt.Sprintf("conflict: %s (status=%s admin=%s)", e.Reason, e.Status, e.AdminID)
	}
	return fmt.Sprintf("conflict: %s (status=%s)", e.Reason, e.Status)
}

// InvalidTransitionError marks an edge that does not exist in the request
// state machine.
type InvalidTransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// DuplicateNameError is returned when a site name insert loses a uniqueness
// race or targets an already-taken name. It always carries an actionable
// suggestion.
type DuplicateNameError struct {
	Name       string
	Suggestion string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("site name %q is already taken (suggestion: %s)", e.Name, e.Suggestion)
}
