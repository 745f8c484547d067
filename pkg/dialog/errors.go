package dialog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnexpectedEmit matches events a context has no handler for.
var ErrUnexpectedEmit = errors.New("dialog: unexpected emit")

// ErrContractViolation matches programmer errors. They are raised with
// panic and never returned.
var ErrContractViolation = errors.New("dialog: contract violation")

// UnexpectedEmitError reports an emit for a name with no registered handler.
type UnexpectedEmitError struct {
	Name     string
	Expected []string
}

func (e *UnexpectedEmitError) Error() string {
	if len(e.Expected) == 0 {
		return fmt.Sprintf("dialog: unexpected emit %q: no handlers registered", e.Name)
	}

	return fmt.Sprintf("dialog: unexpected emit %q: expected one of [%s]", e.Name, strings.Join(e.Expected, ", "))
}

// Is reports whether target is ErrUnexpectedEmit.
func (e *UnexpectedEmitError) Is(target error) bool { return target == ErrUnexpectedEmit }

// ContractError is the panic value for contract violations.
type ContractError struct {
	Op     string
	Reason string
}

func (e *ContractError) Error() string { return "dialog: " + e.Op + ": " + e.Reason }

// Unwrap returns ErrContractViolation.
func (e *ContractError) Unwrap() error { return ErrContractViolation }

func violate(op, reason string) {
	panic(&ContractError{Op: op, Reason: reason})
}

// ErrPanicked matches panics recovered from a context's background work.
var ErrPanicked = errors.New("dialog: panicked")

// PanicError wraps a value recovered on a goroutine owned by a context.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("dialog: %s panicked: %v", e.Op, e.Value) }

// Unwrap returns ErrPanicked.
func (e *PanicError) Unwrap() error { return ErrPanicked }
