package machina

import (
	"fmt"
	"time"
)

// Kind classifies a MachinaError.
type Kind int

const (
	// KindRegistration covers duplicate names, unknown referenced names,
	// negative counts, and unknown concurrent-group references discovered
	// at registration time.
	KindRegistration Kind = iota
	// KindLookup covers Event.Start/Stop/Execute referencing an unknown name.
	KindLookup
	// KindBody covers any error or panic surfacing from a user-supplied
	// emit or execute body.
	KindBody
	// KindCanceled covers cooperative cancellation of an emit driver or
	// execute invocation.
	KindCanceled
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindLookup:
		return "lookup"
	case KindBody:
		return "body"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MachinaError is the error type machina returns for registration, lookup,
// body and cancellation failures; ParseInterval and a failing startup hook
// return plain errors instead. It wraps the
// underlying cause with the information needed to tell a bad registration
// call apart from a failing user body: the Kind, the emit/execute/group
// name the error concerns (Op), and when it happened.
type MachinaError struct {
	Timestamp time.Time
	Err       error
	Op        Name
	Kind      Kind
}

// Error implements the error interface.
func (e *MachinaError) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := e.Op
	if op == "" {
		op = "unknown"
	}
	return fmt.Sprintf("machina: %s [%s]: %v", e.Kind, op, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is/errors.As
// against the wrapped cause.
func (e *MachinaError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsCanceled reports whether this error represents cooperative cancellation
// rather than a genuine failure.
func (e *MachinaError) IsCanceled() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindCanceled
}

// IsRegistration reports whether this error originated from a registration
// call (duplicate name, unknown reference, invalid count).
func (e *MachinaError) IsRegistration() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindRegistration
}

func newRegistrationError(op Name, format string, args ...any) *MachinaError {
	return &MachinaError{
		Kind:      KindRegistration,
		Op:        op,
		Err:       fmt.Errorf(format, args...),
		Timestamp: time.Now(),
	}
}

func newLookupError(op Name, format string, args ...any) *MachinaError {
	return &MachinaError{
		Kind:      KindLookup,
		Op:        op,
		Err:       fmt.Errorf(format, args...),
		Timestamp: time.Now(),
	}
}

func newBodyError(op Name, cause error) *MachinaError {
	return &MachinaError{
		Kind:      KindBody,
		Op:        op,
		Err:       cause,
		Timestamp: time.Now(),
	}
}

func newCanceledError(op Name, cause error) *MachinaError {
	return &MachinaError{
		Kind:      KindCanceled,
		Op:        op,
		Err:       cause,
		Timestamp: time.Now(),
	}
}
