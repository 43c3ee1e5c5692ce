// Package gcerr defines the collector's error taxonomy.
//
// Resource exhaustion is the only recoverable kind: it is returned to
// the caller, who may trigger a collection and retry. Protocol
// violations and suspected corruption are fatal and reported through
// Fatal, which never returns.
package gcerr

import (
	"log"

	"github.com/cockroachdb/errors"
)

var (
	// ErrResourceExhausted marks page or chunk acquisition failures.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrOutOfMemory is surfaced to the host when an allocation still
	// fails after a collection.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrProtocolViolation marks an operation called outside its valid
	// state, e.g. allocating while the world is stopped.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCorruption marks a failed side-metadata or heap invariant check.
	ErrCorruption = errors.New("heap corruption suspected")
)

// Exhausted builds a recoverable resource-exhaustion error.
func Exhausted(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrResourceExhausted)
}

// OutOfMemory wraps cause as an unrecoverable allocation failure.
func OutOfMemory(cause error, format string, args ...any) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrOutOfMemory)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrOutOfMemory)
}

// Violation builds a protocol-violation error. Callers hand it to Fatal.
func Violation(format string, args ...any) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrProtocolViolation)
}

// Corruption builds a corruption error. Callers hand it to Fatal.
func Corruption(format string, args ...any) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrCorruption)
}

func IsExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }

func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }

func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrCorruption)
}

// Fatal reports err with its stack and halts the caller by panicking.
// A collector cannot continue after a consistency violation, so there is
// no recovery path.
func Fatal(err error) {
	log.Printf("[fatal] %+v", err)
	panic(err)
}

// Fatalf is Violation followed by Fatal.
func Fatalf(format string, args ...any) {
	Fatal(Violation(format, args...))
}

// Check halts with a corruption error when cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		Fatal(Corruption(format, args...))
	}
}
