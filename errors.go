// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way callers need to route on, per the
// error taxonomy every engine in this module returns.
type Kind int

const (
	_ Kind = iota
	// ArgumentInvalid: bad filename, bad access mode, bad geometry, a part
	// kind not supported by the target filesystem or archive format.
	ArgumentInvalid
	// IoFailure: structural access refused -- read-only, already open,
	// format-while-in-use, delete-while-open.
	IoFailure
	// NotFound: missing entry or missing part.
	NotFound
	// DiskFull: allocator cannot satisfy the request. Transactional: no
	// partial allocation survives a failed call.
	DiskFull
	// Damaged: the volume or file was marked dubious/damaged by a prior
	// scan and the operation is suppressed.
	Damaged
	// FormatError: a container, archive, or filesystem signature or
	// checksum failed validation during open.
	FormatError
	// TransactionState: an archive API was called in the wrong state
	// (commit without start, open-part mid-transaction, and so on).
	TransactionState
)

func (k Kind) String() string {
	switch k {
	case ArgumentInvalid:
		return "ArgumentInvalid"
	case IoFailure:
		return "IoFailure"
	case NotFound:
		return "NotFound"
	case DiskFull:
		return "DiskFull"
	case Damaged:
		return "Damaged"
	case FormatError:
		return "FormatError"
	case TransactionState:
		return "TransactionState"
	default:
		return "Unknown"
	}
}

// Error is the concrete type behind every error this module returns.
// Callers route on Kind with errors.Is(err, vdisk.ArgumentInvalid) and so on --
// Kind itself implements error so it can serve as the comparison target.
type Error struct {
	Kind Kind
	msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, vdisk.NotFound) work directly against the Kind
// sentinels above, since Kind itself satisfies the error interface.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

func (k Kind) Error() string { return k.String() }

// NewError builds a fresh Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an existing error, preserving it as the cause via
// github.com/pkg/errors so callers retain a stack trace from the original
// failure site, which is the error-handling idiom this module follows
// (grounded in aiSzzPL-retroio, the one example repo that imports pkg/errors
// directly).
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), Err: errors.WithStack(err)}
}
