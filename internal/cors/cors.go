// Package cors evaluates cross-origin policy at the edge of the dispatch
// pipeline: preflights are answered (or denied) before routing, and
// ordinary cross-origin responses get their headers decorated on the way
// out.
package cors

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/outrigger-io/keel/internal/httpx"
)

// Config holds the cross-origin policy. The zero value denies nothing
// because Enabled is false.
type Config struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

func (c Config) withDefaults() Config {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}
	}
	if c.MaxAge == 0 {
		c.MaxAge = 300
	}
	return c
}

// Evaluator applies a Config to requests. The config is swappable at
// runtime for hot reload.
type Evaluator struct {
	logger *slog.Logger
	cfg    atomic.Pointer[Config]
}

// NewEvaluator builds an evaluator for the given policy.
func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger.With(slog.String("component", "cors"))}
	e.Update(cfg)
	return e
}

// Update atomically replaces the policy.
func (e *Evaluator) Update(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

// Enabled reports whether cross-origin evaluation is switched on.
func (e *Evaluator) Enabled() bool {
	return e.cfg.Load().Enabled
}

// HandleRequest evaluates the request's Origin. A non-nil response means
// dispatch ends here: either a preflight reply or a denial. False with no
// response means the request proceeds, owing response decoration.
func (e *Evaluator) HandleRequest(req *httpx.Request) (*httpx.Response, bool) {
	cfg := e.cfg.Load()
	origin := req.Header().Get("Origin")
	if origin == "" {
		return nil, false
	}
	allowed := cfg.originAllowed(origin)

	if req.Method() == http.MethodOptions && req.Header().Get("Access-Control-Request-Method") != "" {
		requested := req.Header().Get("Access-Control-Request-Method")
		if !allowed || !cfg.methodAllowed(requested) {
			e.logger.DebugContext(req.Context(), "preflight denied",
				slog.String("origin", origin),
				slog.String("requested_method", requested))
			return httpx.Status(http.StatusForbidden), true
		}
		resp := httpx.Status(http.StatusNoContent)
		cfg.decorate(origin, resp)
		resp.Header.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
		resp.Header.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
		resp.Header.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
		return resp, true
	}

	if !allowed {
		e.logger.DebugContext(req.Context(), "cross-origin request denied",
			slog.String("origin", origin))
		return httpx.Status(http.StatusForbidden), true
	}
	return nil, false
}

// HandleResponse decorates an outgoing response for an allowed
// cross-origin request.
func (e *Evaluator) HandleResponse(req *httpx.Request, resp *httpx.Response) {
	cfg := e.cfg.Load()
	origin := req.Header().Get("Origin")
	if origin == "" || !cfg.originAllowed(origin) {
		return
	}
	cfg.decorate(origin, resp)
	if len(cfg.ExposedHeaders) > 0 {
		resp.Header.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
}

func (c *Config) originAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (c *Config) methodAllowed(method string) bool {
	for _, m := range c.AllowedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (c *Config) decorate(origin string, resp *httpx.Response) {
	if len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] == "*" {
		resp.Header.Set("Access-Control-Allow-Origin", "*")
	} else {
		resp.Header.Set("Access-Control-Allow-Origin", origin)
		resp.Header.Add("Vary", "Origin")
	}
	if c.AllowCredentials {
		resp.Header.Set("Access-Control-Allow-Credentials", "true")
	}
}
