// Package errorc implements the structured error type shared by every
// component of the monitor execution engine. It carries a call-site and
// a classification code so callers can branch with errors.Is/errors.As
// instead of string matching.
package errorc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// Kind is one of the seven error classifications named in the error
// handling design: a trigger failure is QueryFailed, a store overload is
// Transient, a bad invariant is Validation, and so on.
type Kind string

const (
	Validation  Kind = "VALIDATION"
	AuthZ       Kind = "AUTHZ"
	NotFound    Kind = "NOT_FOUND"
	QueryFailed Kind = "QUERY_FAILED"
	Transient   Kind = "TRANSIENT"
	Fatal       Kind = "FATAL"
	Cancelled   Kind = "CANCELLED"
)

// Code is a named, comparable classification. Two *Code values are equal
// iff they are the same pointer — callers compare with errors.Is against
// the package-level Code* variables below.
type Code struct {
	Kind Kind
	Name string
}

func (c *Code) String() string {
	if c == nil {
		return "UNKNOWN"
	}
	return c.Name
}

// Error satisfies the error interface so a *Code can be passed as the
// target to errors.Is (see Error.Is below).
func (c *Code) Error() string {
	return c.String()
}

var (
	CodeValidation  = &Code{Validation, "Validation"}
	CodeAuthZ       = &Code{AuthZ, "AuthZ"}
	CodeNotFound    = &Code{NotFound, "NotFound"}
	CodeQueryFailed = &Code{QueryFailed, "QueryFailed"}
	CodeTransient   = &Code{Transient, "Transient"}
	CodeFatal       = &Code{Fatal, "Fatal"}
	CodeCancelled   = &Code{Cancelled, "Cancelled"}
)

// Error is the structured error type. It always carries the call site
// that constructed it, which is what differs from a plain fmt.Errorf
// chain: walking Cause recovers the trail even across package boundaries.
type Error struct {
	*Code
	Msg      string
	Cause    error
	Entry    string
	FileName string
	Line     int
	FuncName string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code.String(), e.Msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errorc.CodeTransient) work without exposing the
// Code field's pointer-identity comparison to every call site.
func (e *Error) Is(target error) bool {
	code, ok := target.(*Code)
	if !ok {
		return false
	}
	return e.Code == code
}

// Builder is the per-package error constructor, mirroring the teacher's
// ErrorBuilder: each package that raises structured errors gets its own
// builder so the Entry field identifies where an error originated.
type Builder struct {
	entry string
}

func NewBuilder(entry string) *Builder {
	return &Builder{entry: entry}
}

func (b *Builder) wrap(code *Code, msg string, cause error) *Error {
	e := callSite(3)
	e.Code = code
	e.Msg = msg
	e.Cause = cause
	e.Entry = b.entry
	return e
}

func (b *Builder) Validation(msg string, cause error) *Error  { return b.wrap(CodeValidation, msg, cause) }
func (b *Builder) AuthZ(msg string, cause error) *Error       { return b.wrap(CodeAuthZ, msg, cause) }
func (b *Builder) NotFound(msg string, cause error) *Error    { return b.wrap(CodeNotFound, msg, cause) }
func (b *Builder) QueryFailed(msg string, cause error) *Error { return b.wrap(CodeQueryFailed, msg, cause) }
func (b *Builder) Transient(msg string, cause error) *Error   { return b.wrap(CodeTransient, msg, cause) }
func (b *Builder) Fatal(msg string, cause error) *Error       { return b.wrap(CodeFatal, msg, cause) }

// Cancelled classifies ctx.Err() into the Cancelled kind, matching the
// suspension-point contract of §5: every I/O call surfaces cancellation
// this way rather than as a bare context error.
func (b *Builder) Cancelled(ctx context.Context) *Error {
	return b.wrap(CodeCancelled, "operation cancelled", ctx.Err())
}

func callSite(skip int) *Error {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return &Error{FileName: "<unknown>"}
	}
	funcName := "<unknown>"
	if details := runtime.FuncForPC(pc); details != nil {
		funcName = details.Name()
	}
	return &Error{FileName: file, Line: line, FuncName: funcName}
}

// As recovers an *Error anywhere in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, Cancelled if it wraps context.Canceled, and Fatal otherwise —
// the safe default for an unclassified failure reaching the top of a
// monitor run.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Fatal
}
