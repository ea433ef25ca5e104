// Package vserr defines the error kinds used throughout the scheduler core
// and maps them onto gRPC status codes, the way github.com/google/schedviz's
// analysis package reports every error through codes.Code/status.Errorf.
package vserr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one of the error kinds enumerated in the scheduler's error design.
type Kind int

const (
	// Unknown is the zero Kind; errors without a recognized Kind report it.
	Unknown Kind = iota
	// BadParam: out-of-range or internally inconsistent allocation, affinity
	// or configuration; surfaced to callers without mutating any state.
	BadParam
	// NoResources: a reservation would exceed available capacity.
	NoResources
	// AdmissionDenied: a min reservation exceeds the parent's unreserved min,
	// or falls below the sum of descendants' reserved mins.
	AdmissionDenied
	// NotFound: a group id, world id, or PCPU id isn't currently registered.
	NotFound
	// Busy: retryable -- snapshot invalidated mid-rebalance, remote cell
	// try-lock failed, or a running world can't be removed yet.
	Busy
	// DeathPending: a wait returned because the calling world is being
	// terminated. Never silently converted to OK.
	DeathPending
	// Fatal: a violated invariant. The caller must stop cleanly.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case BadParam:
		return "BadParam"
	case NoResources:
		return "NoResources"
	case AdmissionDenied:
		return "AdmissionDenied"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case DeathPending:
		return "DeathPending"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

func (k Kind) code() codes.Code {
	switch k {
	case BadParam:
		return codes.InvalidArgument
	case NoResources:
		return codes.ResourceExhausted
	case AdmissionDenied:
		return codes.PermissionDenied
	case NotFound:
		return codes.NotFound
	case Busy:
		return codes.Unavailable
	case DeathPending:
		return codes.Aborted
	case Fatal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// kindError pairs a Kind with the *status.Status built from it, so Kind(err)
// recovers the original kind without relying solely on codes.Code round-trips
// (several kinds share a code family is avoided above, but this keeps the
// mapping exact regardless).
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) GRPCStatus() *status.Status { return status.Convert(e.err) }

// New builds an error of the given Kind with a status.Errorf-formatted
// message, the same construction every teacher file uses for its errors.
func New(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: status.Errorf(kind.code(), format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf returns the Kind attached to err, or Unknown if none is attached.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatalf mirrors New(Fatal, ...) but is named separately because callers at
// dispatcher invariant checks should read as distinctly different from a
// routine returned error -- it's meant to be recovered only at the top of a
// PCPU's dispatch loop, never swallowed.
func Fatalf(format string, args ...interface{}) error {
	return New(Fatal, format, args...)
}

// MustNotHappen panics with a Fatal-kind error carrying msg, for invariant
// checks that have no sane recovery (lock-retry limit exceeded, a state-meter
// timestamp in the future, etc). The scheduler's top-level PCPU loop recovers
// this panic to shut down cleanly and log diagnostic state.
func MustNotHappen(msg string) {
	panic(New(Fatal, "%s", msg))
}

// ErrString is a small helper for diagnostic dumps: formats err including its
// Kind, or "<nil>".
func ErrString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %v", KindOf(err), err)
}
