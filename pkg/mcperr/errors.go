// Package mcperr defines the error taxonomy shared by the gateway components.
//
// Every failure that crosses a component boundary is an *Error tagged with a
// Kind. Callers branch on the kind with errors.Is against the exported
// sentinels:
//
//	if errors.Is(err, mcperr.ErrToolBlacklisted) { ... }
package mcperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	KindConfigNotFound     Kind = "ConfigNotFound"
	KindConfigParse        Kind = "ConfigParseError"
	KindConfigSchema       Kind = "ConfigSchemaError"
	KindConnectionFailed   Kind = "ConnectionFailed"
	KindTimeout            Kind = "Timeout"
	KindUnknownServer      Kind = "UnknownServer"
	KindUnknownTool        Kind = "UnknownTool"
	KindToolBlacklisted    Kind = "ToolBlacklisted"
	KindToolFailed         Kind = "ToolFailed"
	KindCacheIO            Kind = "CacheIOError"
	KindInvalidPackageName Kind = "InvalidPackageName"
)

// Sentinels for errors.Is. They carry only a kind.
var (
	ErrConfigNotFound     = &Error{Kind: KindConfigNotFound}
	ErrConfigParse        = &Error{Kind: KindConfigParse}
	ErrConfigSchema       = &Error{Kind: KindConfigSchema}
	ErrConnectionFailed   = &Error{Kind: KindConnectionFailed}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUnknownServer      = &Error{Kind: KindUnknownServer}
	ErrUnknownTool        = &Error{Kind: KindUnknownTool}
	ErrToolBlacklisted    = &Error{Kind: KindToolBlacklisted}
	ErrToolFailed         = &Error{Kind: KindToolFailed}
	ErrCacheIO            = &Error{Kind: KindCacheIO}
	ErrInvalidPackageName = &Error{Kind: KindInvalidPackageName}
)

// Error is a classified gateway failure. Server and Tool are optional context.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Server  string `json:"server,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Cause   error  `json:"-"`
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithServer returns a copy of e annotated with the server name.
func (e *Error) WithServer(server string) *Error {
	clone := *e
	clone.Server = server
	return &clone
}

// WithTool returns a copy of e annotated with the tool name.
func (e *Error) WithTool(tool string) *Error {
	clone := *e
	clone.Tool = tool
	return &clone
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so wrapped errors compare equal to
// the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// From converts an arbitrary error into an *Error. Existing *Error values are
// returned as is; context deadline errors become KindTimeout and everything
// else becomes fallback.
func From(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, err, "operation timed out")
	}
	return &Error{Kind: fallback, Message: err.Error(), Cause: err}
}
