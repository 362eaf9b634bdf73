package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrRecordConflict is returned when a write or move targets a filename
	// that already exists.
	ErrRecordConflict = errors.New("record already exists")
	// ErrRecordNotFound is returned when a record is not in the expected folder.
	ErrRecordNotFound = errors.New("record not found")
)

// ErrorKind classifies an action failure for the retry policy.
type ErrorKind string

const (
	// ErrorTransient failures may succeed on a later attempt.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent failures abort without consuming remaining attempts.
	ErrorPermanent ErrorKind = "permanent"
)

// ActionError is the structured failure returned by an action capability.
type ActionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ActionError) Error() string {
	return e.Err.Error()
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &ActionError{Kind: ErrorTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &ActionError{Kind: ErrorPermanent, Err: err}
}

// Permanentf formats a non-retryable failure.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// transientKeywords mark an unclassified error message as retryable.
var transientKeywords = []string{"timeout", "network"}

// ClassifyError returns the kind of an action failure. Structured
// ActionErrors carry their own kind; timeouts reported by the net package are
// transient; anything else is classified by the keywords in its message.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, k := range transientKeywords {
		if strings.Contains(msg, k) {
			return ErrorTransient
		}
	}
	return ErrorPermanent
}
