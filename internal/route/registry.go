package route

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Registry is the default Router. Path patterns are registered into a chi
// mux used purely as a matching trie; everything matched is resolved back
// to the registered Route entries for candidate ordering, content-type
// checks and argument metadata.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	mux     *chi.Mux
	byKey   map[string][]*Route
	methods map[string]struct{}
	status  map[int]*Route
	onError []errorEntry
}

type errorEntry struct {
	owner  string
	target reflect.Type
	route  *Route
}

// noopHandler satisfies chi's registration API; the mux never serves.
var noopHandler = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// NewRegistry creates an empty route registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With(slog.String("component", "router")),
		mux:     chi.NewRouter(),
		byKey:   make(map[string][]*Route),
		methods: make(map[string]struct{}),
		status:  make(map[int]*Route),
	}
}

// Add registers a route. Multiple routes may share a method and pattern;
// they become ordered candidates distinguished by predicates and consumed
// content types.
func (g *Registry) Add(r *Route) *Registry {
	if r.handler == nil {
		panic("route: registering route without handler: " + r.method + " " + r.pattern)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := r.method + " " + r.pattern
	if _, exists := g.byKey[key]; !exists {
		g.mux.Method(r.method, r.pattern, noopHandler)
	}
	g.byKey[key] = append(g.byKey[key], r)
	g.methods[r.method] = struct{}{}
	g.logger.Debug("route registered",
		slog.String("method", r.method),
		slog.String("pattern", r.pattern),
		slog.String("owner", r.owner))
	return g
}

// Status registers the fallback route for a status code.
func (g *Registry) Status(code int, r *Route) *Registry {
	if r.handler == nil {
		panic("route: registering status route without handler")
	}
	g.mu.Lock()
	g.status[code] = r
	g.mu.Unlock()
	return g
}

// OnError registers an error route for failures whose chain contains the
// prototype's type. An empty owner makes the route global.
func (g *Registry) OnError(owner string, prototype error, r *Route) *Registry {
	if r.handler == nil {
		panic("route: registering error route without handler")
	}
	g.mu.Lock()
	g.onError = append(g.onError, errorEntry{
		owner:  owner,
		target: reflect.TypeOf(prototype),
		route:  r,
	})
	g.mu.Unlock()
	return g
}

// FindRoute implements Router.
func (g *Registry) FindRoute(method, path string) []Match {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findLocked(method, path)
}

func (g *Registry) findLocked(method, path string) []Match {
	rctx := chi.NewRouteContext()
	if !g.mux.Match(rctx, method, path) {
		return nil
	}
	entries := g.byKey[method+" "+rctx.RoutePattern()]
	if len(entries) == 0 {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" {
			continue
		}
		params[k] = rctx.URLParams.Values[i]
	}
	matches := make([]Match, 0, len(entries))
	for _, r := range entries {
		matches = append(matches, newMatch(r, params))
	}
	return matches
}

// FindAnyRoute implements Router: matches for the path under any method.
func (g *Registry) FindAnyRoute(path string) []Match {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var matches []Match
	for method := range g.methods {
		matches = append(matches, g.findLocked(method, path)...)
	}
	return matches
}

// FindStatusRoute implements Router.
func (g *Registry) FindStatusRoute(status int) (Match, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.status[status]
	if !ok {
		return nil, false
	}
	return newMatch(r, nil), true
}

// FindErrorRoute implements Router. Owner-scoped routes win over global
// ones; within a scope, registration order decides.
func (g *Registry) FindErrorRoute(owner string, err error) (Match, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.onError {
		if e.owner == owner && owner != "" && ChainContains(e.target, err) {
			return newMatch(e.route, nil), true
		}
	}
	for _, e := range g.onError {
		if e.owner == "" && ChainContains(e.target, err) {
			return newMatch(e.route, nil), true
		}
	}
	return nil, false
}

// ChainContains walks the error chain looking for the target type, either
// by identity or, for interface targets, by implementation. Shared with
// the dispatcher's exception-handler registry.
func ChainContains(target reflect.Type, err error) bool {
	if target == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		if t == target {
			return true
		}
		if target.Kind() == reflect.Interface && t != nil && t.Implements(target) {
			return true
		}
	}
	return false
}
