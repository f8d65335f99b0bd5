package funnel

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a transition is already running for the session.
	ErrBusy = errors.New("funnel busy")
	// ErrWrongStep is returned when an operation is not allowed in the current step.
	ErrWrongStep = errors.New("operation not allowed in current step")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("funnel manager closed")
)

// Kind classifies a failed transition.
type Kind string

// Failure kinds.
const (
	KindValidation     Kind = "validation"
	KindGateway        Kind = "gateway"
	KindSessionExpired Kind = "session_expired"
	KindNetwork        Kind = "network"
	KindInternal       Kind = "internal"
)

// Failure is a transition that ended without advancing. Message is localized
// and safe to show to the subscriber.
type Failure struct {
	Err     error
	Kind    Kind
	Code    string
	Message string
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure (%s): %v", f.Kind, f.Code, f.Err)
	}
	return fmt.Sprintf("%s failure (%s)", f.Kind, f.Code)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
