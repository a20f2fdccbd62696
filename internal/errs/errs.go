// Package errs declares the error taxonomy shared across Shuttle's
// components and the process exit codes derived from it.
package errs

import (
	"github.com/pkg/errors"
)

// Kind identifies one of the error categories from the core's error
// handling design. Kind is orthogonal to the wrapped cause: call Wrap
// to attach one to an arbitrary error.
type Kind int

const (
	// KindNone marks a value that carries no Shuttle error kind.
	KindNone Kind = iota

	// KindConfigInvalid covers missing required paths, contradictory
	// scanner selection, or unparseable configuration values. Fatal at
	// startup.
	KindConfigInvalid

	// KindLockContended means another instance already holds the
	// instance lock. Fatal at startup.
	KindLockContended

	// KindFilesystemError covers stat/read/write/rename failures.
	// Per-file, it fails that file only; for the quarantine directory
	// itself, it aborts the run.
	KindFilesystemError

	// KindScannerError covers a scanner invocation that returned a
	// non-recognised result, or timed out, after retries were
	// exhausted.
	KindScannerError

	// KindHashMismatch covers post-copy verification failure, the
	// safe_delete guard, or a destination collision.
	KindHashMismatch

	// KindEncryptionError means the Encryptor failed; Suspect
	// disposition falls back to deleting the quarantine copy without
	// touching the source.
	KindEncryptionError

	// KindThrottled is not a failure: it marks an admission refusal.
	KindThrottled

	// KindInterrupted marks a shutdown signal; still-pending records
	// are closed out as Failed(interrupted).
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindLockContended:
		return "LockContended"
	case KindFilesystemError:
		return "FilesystemError"
	case KindScannerError:
		return "ScannerError"
	case KindHashMismatch:
		return "HashMismatch"
	case KindEncryptionError:
		return "EncryptionError"
	case KindThrottled:
		return "Throttled"
	case KindInterrupted:
		return "Interrupted"
	default:
		return "None"
	}
}

// kindError pairs a Kind with an underlying cause so errors.As can
// recover the classification after the error has been wrapped further
// up the call stack with pkg/errors.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error { return e.cause }

// Wrap annotates err with kind and a message, in the style of
// errors.Wrap so the call site still reads as a normal pkg/errors
// chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrapf(err, format, args...)}
}

// New creates a fresh error carrying kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, cause: errors.Errorf(format, args...)}
}

// KindOf recovers the Kind carried by err, walking the unwrap chain.
// It returns KindNone if err (or nothing in its chain) carries one.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindNone
}

// Exit codes are stable across versions (spec §6).
const (
	ExitSuccess                  = 0
	ExitAlreadyRunning           = 10
	ExitConfigInvalid            = 11
	ExitFatalIO                  = 12
	ExitInterruptedShutdown      = 13
	ExitPartialFailureWithFailed = 14
)

// ExitCode maps err (as returned by the top-level run) to the process
// exit code spec §6 requires. A nil err always maps to ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindLockContended:
		return ExitAlreadyRunning
	case KindConfigInvalid:
		return ExitConfigInvalid
	case KindInterrupted:
		return ExitInterruptedShutdown
	case KindFilesystemError:
		return ExitFatalIO
	default:
		return ExitFatalIO
	}
}
