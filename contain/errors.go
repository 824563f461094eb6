// Package contain implements the interception-proxy sandbox core: a
// validated, immutable-after-construction policy record, a path resolver
// that decides admit/deny for every resource request, a per-scheme Filter
// Scheme Server that enforces that decision, and the supervisor/runner
// lifecycle that builds the restricted namespace, forks the child into it,
// and tears the proxy down on exit.
//
// # Design
//
// Redox OS names every resource by a scheme:/path URI served by an
// in-process scheme server registered with the kernel; sandboxing a process
// means interposing a filtering scheme server in front of the schemes it's
// allowed to touch. Linux has no equivalent kernel facility, so this package
// builds the same proxy out of Linux primitives: a private mount namespace
// stands in for a Redox namespace, a FUSE filesystem per sandboxed scheme
// stands in for a scheme server, and Setfsuid/Setfsgid stand in for
// per-request caller impersonation.
//
// # Platform
//
// This package is Linux-only and requires a kernel with user/mount namespace
// support and /dev/fuse.
package contain

import (
	"errors"
	"fmt"
)

// ExecFailExitCode is the sentinel exit code a sandboxed child reports when
// exec itself fails inside the new namespace (e.g. the command does not
// exist).
const ExecFailExitCode = 13

// ErrorKind classifies the failure modes surfaced by this package's public
// surface.
type ErrorKind int

const (
	// ErrParse indicates malformed input that could not be parsed at all
	// (reserved for callers parsing policy files; this package itself does
	// not parse any file format).
	ErrParse ErrorKind = iota + 1

	// ErrConfig indicates a validated Policy failed a structural invariant
	// (for example, a chroot root whose scheme isn't sandboxed).
	ErrConfig

	// ErrIO indicates a failure performing ordinary I/O (opening a file,
	// creating a pipe, forking).
	ErrIO

	// ErrSyscall indicates the host kernel refused a namespace, mount, or
	// credential-switching operation.
	ErrSyscall

	// ErrPoison indicates a lock was left in an inconsistent state. Go's
	// sync.RWMutex cannot actually poison, and no operation in this package
	// returns this kind.
	ErrPoison

	// ErrThread indicates the supervisor's worker goroutine could not be
	// started or joined.
	ErrThread
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParse:
		return "ParseError"
	case ErrConfig:
		return "ConfigError"
	case ErrIO:
		return "IoError"
	case ErrSyscall:
		return "SyscallError"
	case ErrPoison:
		return "PoisonError"
	case ErrThread:
		return "ThreadError"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying cause with one of the kinds above.
//
// Error implements Unwrap, so callers can use errors.Is/errors.As against
// the wrapped cause as well as against a specific Kind via errors.As against
// *Error.
type Error struct {
	Kind  ErrorKind
	Op    string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		if e.Op == "" {
			return e.Kind.String()
		}

		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}

	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, which lets
// callers write errors.Is(err, contain.ErrConfigKind) style checks against the
// package-level sentinel values below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) && other.cause == nil {
		return e.Kind == other.Kind
	}

	return false
}

func newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, cause: cause}
}

// Sentinel errors usable with errors.Is(err, contain.ErrConfigKind) to test
// the Kind of an *Error without constructing one.
var (
	ErrConfigKind  = &Error{Kind: ErrConfig}
	ErrIOKind      = &Error{Kind: ErrIO}
	ErrSyscallKind = &Error{Kind: ErrSyscall}
	ErrPoisonKind  = &Error{Kind: ErrPoison}
	ErrThreadKind  = &Error{Kind: ErrThread}
	ErrParseKind   = &Error{Kind: ErrParse}
)

func ioErrorf(op string, cause error) error      { return newError(ErrIO, op, cause) }
func syscallErrorf(op string, cause error) error { return newError(ErrSyscall, op, cause) }
func configErrorf(op, format string, args ...any) error {
	return newError(ErrConfig, op, fmt.Errorf(format, args...))
}
func threadErrorf(op string, cause error) error { return newError(ErrThread, op, cause) }
