// Package route defines the router contract consumed by the dispatcher and
// a registry-backed implementation of it. Path matching is delegated to a
// chi routing trie; candidate selection, content-type constraints, status
// routes and error routes live here.
package route

import (
	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/httpx"
)

// Args is the resolved argument set passed to a handler.
type Args = map[string]any

// HandlerFunc is a route target. It receives the fully resolved arguments
// declared for the route; request or failure access is declared as an
// argument like anything else.
type HandlerFunc func(args Args) (any, error)

// Predicate is an extra match condition evaluated against the request.
type Predicate func(req *httpx.Request) bool

// DecoratorFunc wraps a match's execution, replacing the invocation.
type DecoratorFunc func(inner Match) (any, error)

// Router produces candidate matches for requests, fallbacks for status
// codes, and error routes for failures.
type Router interface {
	// FindRoute returns the candidate matches for a method and path, in
	// registration order.
	FindRoute(method, path string) []Match
	// FindAnyRoute returns matches for the path regardless of method.
	FindAnyRoute(path string) []Match
	// FindStatusRoute returns the application route registered for a
	// status code, if any.
	FindStatusRoute(status int) (Match, bool)
	// FindErrorRoute returns the error route for the failure, preferring
	// routes scoped to the given owner over globally registered ones.
	FindErrorRoute(owner string, err error) (Match, bool)
}

// Match is a candidate binding of a route to a request. Fulfill and
// Decorate return new values; a Match never mutates in place, so a route
// template is safely shared across concurrent requests.
type Match interface {
	// Owner identifies the handler group declaring the route.
	Owner() string
	// Name is the handler name, for logs.
	Name() string
	Method() string
	Pattern() string
	// ExecutorName is the worker pool the route asks to run on; empty
	// means no preference.
	ExecutorName() string
	RequiredArguments() []binding.Argument
	ArgumentValues() map[string]any
	PathParams() map[string]string
	// Test evaluates the route's predicates against the request.
	Test(req *httpx.Request) bool
	// Accepts reports whether the route consumes the given content type.
	Accepts(ct httpx.MediaType) bool
	// Fulfill applies resolved argument values, returning the new match.
	Fulfill(values map[string]any) Match
	// Decorate wraps the eventual execution, returning the new match.
	Decorate(fn DecoratorFunc) Match
	// Execute resolves any deferred values and invokes the handler, or
	// the decorator when one is installed.
	Execute() (any, error)
	// IsExecutable reports whether every required argument has a resolved
	// value (deferred suppliers count as resolved).
	IsExecutable() bool
}

// Route is an application-registered mapping from method, path pattern and
// constraints to a handler. Build with New and the chained setters, then
// register on a Registry.
type Route struct {
	method   string
	pattern  string
	owner    string
	name     string
	executor string
	consumes []httpx.MediaType
	preds    []Predicate
	args     []binding.Argument
	handler  HandlerFunc
}

// New starts a route for a method and chi-style path pattern.
func New(method, pattern string) *Route {
	return &Route{method: method, pattern: pattern}
}

// Owner sets the handler group the route belongs to.
func (r *Route) Owner(owner string) *Route {
	r.owner = owner
	return r
}

// Named sets the handler name used in logs.
func (r *Route) Named(name string) *Route {
	r.name = name
	return r
}

// Executor names the worker pool the handler should run on.
func (r *Route) Executor(name string) *Route {
	r.executor = name
	return r
}

// Consumes constrains the accepted request content types.
func (r *Route) Consumes(types ...httpx.MediaType) *Route {
	r.consumes = append(r.consumes, types...)
	return r
}

// Where adds a match predicate.
func (r *Route) Where(p Predicate) *Route {
	r.preds = append(r.preds, p)
	return r
}

// Args declares the handler's required arguments.
func (r *Route) Args(args ...binding.Argument) *Route {
	r.args = append(r.args, args...)
	return r
}

// Handler sets the route target.
func (r *Route) Handler(fn HandlerFunc) *Route {
	r.handler = fn
	return r
}

// UnsatisfiedRouteError reports that a route was executed with a required
// argument unresolved, or that a deferred value failed to resolve. The
// dispatcher maps it to a 400 response.
type UnsatisfiedRouteError struct {
	Argument string
	Err      error
}

func (e *UnsatisfiedRouteError) Error() string {
	if e.Err != nil {
		return "unsatisfied route argument " + e.Argument + ": " + e.Err.Error()
	}
	return "unsatisfied route argument " + e.Argument
}

func (e *UnsatisfiedRouteError) Unwrap() error { return e.Err }
