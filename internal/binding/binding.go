// Package binding resolves route handler arguments from a request. Binders
// are polymorphic over three kinds: ordinary binders resolve synchronously
// from request metadata, blocking body binders need the complete body, and
// non-blocking body binders can resolve from a live parse before the body
// finishes streaming.
package binding

import (
	"fmt"

	"github.com/outrigger-io/keel/internal/httpx"
)

// Source says where an argument's value comes from.
type Source int

const (
	SourcePath Source = iota
	SourceQuery
	SourceHeader
	SourceBody
	SourceRequest
	SourceFailure
)

func (s Source) String() string {
	switch s {
	case SourcePath:
		return "path"
	case SourceQuery:
		return "query"
	case SourceHeader:
		return "header"
	case SourceBody:
		return "body"
	case SourceRequest:
		return "request"
	case SourceFailure:
		return "failure"
	}
	return "unknown"
}

// Argument describes one required handler argument.
type Argument struct {
	Name     string
	Source   Source
	Optional bool
	// BodyPath addresses a field inside the decoded body. Empty means the
	// whole body. Only meaningful for SourceBody arguments.
	BodyPath string
}

// Path declares a path-variable argument.
func Path(name string) Argument { return Argument{Name: name, Source: SourcePath} }

// Query declares a query-parameter argument.
func Query(name string) Argument { return Argument{Name: name, Source: SourceQuery} }

// Header declares a header argument.
func Header(name string) Argument { return Argument{Name: name, Source: SourceHeader} }

// Body declares a whole-body argument.
func Body(name string) Argument { return Argument{Name: name, Source: SourceBody} }

// BodyField declares an argument bound to one field of the decoded body.
func BodyField(name, path string) Argument {
	return Argument{Name: name, Source: SourceBody, BodyPath: path}
}

// Request declares an argument bound to the request itself.
func Request(name string) Argument { return Argument{Name: name, Source: SourceRequest} }

// Failure declares an argument bound to the error being recovered. Only
// resolvable on error routes.
func Failure(name string) Argument { return Argument{Name: name, Source: SourceFailure} }

// AsOptional marks absence of the argument as a valid resolved state.
func (a Argument) AsOptional() Argument {
	a.Optional = true
	return a
}

// Optional wraps a possibly-absent value for arguments declared optional.
type Optional struct {
	Value   any
	Present bool
}

// Some wraps a present value.
func Some(v any) Optional { return Optional{Value: v, Present: true} }

// None is the absent value.
func None() Optional { return Optional{} }

// Deferred is a zero-argument callback resolving an argument lazily, once
// body data is available. Fulfillment records these instead of values for
// blocking body binders.
type Deferred func() (any, error)

// Context carries per-argument conversion state through a bind.
type Context struct {
	Argument Argument
	Locale   string
	Charset  string

	lastErr error
}

// NewContext builds a conversion context for one argument of one request.
func NewContext(arg Argument, req *httpx.Request) *Context {
	return &Context{Argument: arg, Locale: req.Locale(), Charset: req.Charset()}
}

// SetError records a conversion failure to be surfaced lazily.
func (c *Context) SetError(err error) { c.lastErr = err }

// LastError returns the most recent conversion failure, if any.
func (c *Context) LastError() error { return c.lastErr }

// ConversionError marks a value that could not be converted for an argument.
type ConversionError struct {
	Argument string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert value for argument %q: %v", e.Argument, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Binder extracts a value for an argument from a request. Bind reports
// whether a value was produced.
type Binder interface {
	Supports(arg Argument) bool
	Bind(ctx *Context, req *httpx.Request) (any, bool)
}

// BodyBinder marks binders that read the request body.
type BodyBinder interface {
	Binder
	BindsBody()
}

// NonBlockingBodyBinder marks body binders that may resolve before the
// full body has arrived.
type NonBlockingBodyBinder interface {
	BodyBinder
	NonBlocking()
}
