// Package dispatch is the request-dispatch core: it accepts parsed requests
// from the transport, matches them to registered routes, resolves handler
// arguments synchronously or from the streamed body, executes the handler
// on a selected worker, and writes back a response while enforcing
// connection-lifecycle and cross-origin policy.
//
// Per request the dispatcher moves through received → cors-checked →
// routed → arguments-fulfilled → executing or awaiting-body → responded,
// with early exits for preflights and unroutable requests. Every terminal
// path releases the request's resources exactly once.
package dispatch

import (
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/content"
	"github.com/outrigger-io/keel/internal/cors"
	"github.com/outrigger-io/keel/internal/executor"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/metrics"
	"github.com/outrigger-io/keel/internal/route"
)

// ConnectionContext is the dispatcher's view of one connection. The
// transport implements it; tests fake it. Write delivers a response to the
// peer and reports transport failures synchronously.
type ConnectionContext interface {
	Write(resp *httpx.Response) error
	// IsWritable reports whether the connection can still carry a
	// response after a write failure.
	IsWritable() bool
	Close()
	// AttachedResponse returns a response object pre-attached to the
	// connection by a handler, if any.
	AttachedResponse() *httpx.Response
}

// Options configures a Dispatcher. Router is required; everything else has
// a working default.
type Options struct {
	Router     route.Router
	Binders    *binding.Registry
	Processors *content.FactoryRegistry
	Selector   *executor.Selector
	CORS       *cors.Evaluator
	RateLimit  *RateLimiter
	Limits     content.Limits
	Metrics    *metrics.Dispatch
	Logger     *slog.Logger
}

// Dispatcher is the per-request state machine orchestrating routing,
// argument fulfillment, body ingestion, executor offload and error
// recovery.
type Dispatcher struct {
	router     route.Router
	binders    *binding.Registry
	processors *content.FactoryRegistry
	selector   *executor.Selector
	cors       *cors.Evaluator
	limiter    *RateLimiter
	limits     content.Limits
	metrics    *metrics.Dispatch
	handlers   *HandlerRegistry
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New builds a dispatcher. Default exception handlers for body decode
// failures and oversized bodies are pre-registered; applications may
// override them through Handlers.
func New(opts Options) *Dispatcher {
	if opts.Router == nil {
		panic("dispatch: Options.Router is required")
	}
	if opts.Binders == nil {
		opts.Binders = binding.NewRegistry()
	}
	if opts.Processors == nil {
		opts.Processors = content.NewFactoryRegistry()
	}
	if opts.Selector == nil {
		opts.Selector = executor.NewSelector(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		router:     opts.Router,
		binders:    opts.Binders,
		processors: opts.Processors,
		selector:   opts.Selector,
		cors:       opts.CORS,
		limiter:    opts.RateLimit,
		limits:     opts.Limits,
		metrics:    opts.Metrics,
		handlers:   NewHandlerRegistry(),
		tracer:     otel.Tracer("github.com/outrigger-io/keel/internal/dispatch"),
		logger:     opts.Logger.With(slog.String("component", "dispatch")),
	}
	registerDefaultHandlers(d.handlers)
	return d
}

// Handlers exposes the global exception-handler registry.
func (d *Dispatcher) Handlers() *HandlerRegistry { return d.handlers }

// Dispatch runs the state machine for one request. It is called on the
// connection's I/O goroutine; everything up to handler execution stays on
// that goroutine.
func (d *Dispatcher) Dispatch(cc ConnectionContext, req *httpx.Request) {
	started := time.Now()
	d.metrics.Started()

	ctx, span := d.tracer.Start(req.Context(), "keel.dispatch",
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method()),
			attribute.String("url.path", req.Path()),
		))
	defer span.End()

	logger := d.logger.With(slog.String("request_id", req.ID()))

	if d.limiter != nil && !d.limiter.Allow() {
		logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("method", req.Method()),
			slog.String("path", req.Path()),
			slog.String("remote_addr", req.RemoteAddr()))
		resp := d.synthesizeStatus(429, req, httpx.TooManyRequests())
		resp.Header.Set("Retry-After", "60")
		d.finish(cc, req, resp, "rate_limited", started)
		return
	}

	if d.cors != nil && d.cors.Enabled() && req.Header().Get("Origin") != "" {
		if resp, done := d.cors.HandleRequest(req); done {
			d.finish(cc, req, resp, "cors", started)
			return
		}
		req.MarkCORSDecorationOwed()
	}

	logger.DebugContext(ctx, "matching route",
		slog.String("method", req.Method()),
		slog.String("path", req.Path()))

	var matched route.Match
	for _, candidate := range d.router.FindRoute(req.Method(), req.Path()) {
		if candidate.Test(req) {
			matched = candidate
			break
		}
	}

	if matched == nil {
		if methods := d.allowedMethods(req.Path()); len(methods) > 0 {
			logger.DebugContext(ctx, "no route for method, others exist",
				slog.String("method", req.Method()),
				slog.Any("allowed", methods))
			resp := d.synthesizeStatus(405, req, httpx.NotAllowed(methods...))
			d.finish(cc, req, resp, "method_not_allowed", started)
			return
		}
		logger.DebugContext(ctx, "no matching route",
			slog.String("method", req.Method()),
			slog.String("path", req.Path()))
		resp := d.synthesizeStatus(404, req, httpx.NotFound())
		d.finish(cc, req, resp, "not_found", started)
		return
	}

	if !matched.Accepts(req.ContentType()) {
		logger.DebugContext(ctx, "route does not accept content type",
			slog.String("content_type", req.ContentType().Name()))
		resp := d.synthesizeStatus(415, req, httpx.UnsupportedMediaType())
		d.finish(cc, req, resp, "unsupported_media_type", started)
		return
	}

	logger.DebugContext(ctx, "route matched",
		slog.String("pattern", matched.Pattern()),
		slog.String("owner", matched.Owner()))
	d.handleRouteMatch(cc, req, matched, started)
}

// allowedMethods collects the distinct methods routable for the path,
// sorted for a stable Allow header.
func (d *Dispatcher) allowedMethods(path string) []string {
	seen := make(map[string]struct{})
	for _, m := range d.router.FindAnyRoute(path) {
		seen[m.Method()] = struct{}{}
	}
	methods := make([]string, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (d *Dispatcher) handleRouteMatch(cc ConnectionContext, req *httpx.Request, m route.Match, started time.Time) {
	req.SetMatchedRoute(m)
	req.SetPathParams(m.PathParams())

	m = d.fulfillArguments(m, req)
	req.SetMatchedRoute(m)

	if !m.IsExecutable() && !req.BodyRequired() {
		d.logger.Debug("bad request: unbindable arguments",
			slog.String("pattern", m.Pattern()),
			slog.String("request_id", req.ID()))
		resp := d.synthesizeStatus(400, req, httpx.BadRequest())
		d.finish(cc, req, resp, "bad_request", started)
		return
	}

	m = d.prepareForExecution(cc, req, m, started)
	req.SetMatchedRoute(m)

	if (req.NonBlockingBinderRegistered() && m.IsExecutable()) || !req.BodyRequired() {
		m.Execute() //nolint:errcheck // decorated execution reports through the connection
		return
	}

	// The body must be streamed before the route can run.
	if !req.IsStreamed() {
		d.logger.Debug("request body expected but request is not streamable",
			slog.String("request_id", req.ID()))
		resp := d.synthesizeStatus(400, req, httpx.BadRequest())
		d.finish(cc, req, resp, "bad_request", started)
		return
	}

	contentType := req.ContentType()
	var processor content.Processor
	if factory, ok := d.processors.Lookup(contentType); ok {
		processor = factory.Build(req)
		if !processor.IsEnabled() {
			d.logger.Debug("body parsing not enabled for content type",
				slog.String("content_type", contentType.Name()))
			resp := d.synthesizeStatus(400, req, httpx.BadRequest())
			d.finish(cc, req, resp, "bad_request", started)
			return
		}
	} else {
		processor = content.NewDefaultProcessor(req, d.limits)
	}
	processor.Subscribe(&bodyObserver{d: d, cc: cc, req: req, match: m})
}

// synthesizeStatus builds the response for an expected routing or binding
// outcome: the application's status route wins when registered and
// executable, the generic response otherwise. A failing status route is
// logged and downgraded to the generic response, never escalated.
func (d *Dispatcher) synthesizeStatus(status int, req *httpx.Request, generic *httpx.Response) *httpx.Response {
	m, ok := d.router.FindStatusRoute(status)
	if !ok {
		return generic
	}
	m = d.fulfillArguments(m, req)
	if !m.IsExecutable() {
		return generic
	}
	result, err := m.Execute()
	if err != nil {
		d.logger.Error("status route failed, using generic response",
			slog.Int("status", status),
			slog.String("error", err.Error()))
		return generic
	}
	switch v := result.(type) {
	case nil:
		return generic
	case *httpx.Response:
		return v
	default:
		// Keep the generic response's headers (e.g. Allow on a 405),
		// replace the body.
		resp := httpx.Status(status).WithBody(v)
		for k, vals := range generic.Header {
			resp.Header[k] = vals
		}
		return resp
	}
}

// finish writes a synthesized response and ends the dispatch: close policy
// applied, request released, outcome recorded. Used by the terminal paths
// that bypass the offload decorator.
func (d *Dispatcher) finish(cc ConnectionContext, req *httpx.Request, resp *httpx.Response, outcome string, started time.Time) {
	err := d.writeResponse(cc, req, resp)
	if err != nil {
		d.logger.Error("error writing response",
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		cc.Close()
	} else if resp.CloseAfterWrite(req) {
		cc.Close()
	}
	req.Release()
	d.metrics.Finished(req.Method(), resp.StatusCode, outcome, started)
}

// writeResponse applies the one-shot CORS decoration owed to this request
// and hands the response to the transport.
func (d *Dispatcher) writeResponse(cc ConnectionContext, req *httpx.Request, resp *httpx.Response) error {
	if req != nil && d.cors != nil && req.ConsumeCORSDecoration() {
		d.cors.HandleResponse(req, resp)
	}
	return cc.Write(resp)
}
