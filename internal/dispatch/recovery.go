package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/outrigger-io/keel/internal/content"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
)

// PanicError wraps a recovered panic from handler code so it can travel
// the recovery chain like any other failure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Handler is a global exception handler: it maps a failure to a
// replacement result for the request.
type Handler interface {
	Handle(req *httpx.Request, err error) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *httpx.Request, err error) (any, error)

func (f HandlerFunc) Handle(req *httpx.Request, err error) (any, error) { return f(req, err) }

// HandlerRegistry holds global exception handlers keyed by the failure's
// runtime type. Registration order breaks ties; later registrations win.
type HandlerRegistry struct {
	mu      sync.RWMutex
	entries []handlerEntry
}

type handlerEntry struct {
	target  reflect.Type
	handler Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register binds a handler to the prototype's type. The handler fires for
// any failure whose chain contains that type.
func (r *HandlerRegistry) Register(prototype error, h Handler) {
	r.mu.Lock()
	r.entries = append([]handlerEntry{{target: reflect.TypeOf(prototype), handler: h}}, r.entries...)
	r.mu.Unlock()
}

// Find returns the handler for the failure, if one is registered.
func (r *HandlerRegistry) Find(err error) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if route.ChainContains(e.target, err) {
			return e.handler, true
		}
	}
	return nil, false
}

// registerDefaultHandlers installs the built-in mappings for body
// ingestion failures: undecodable bodies become 400, oversized ones 413.
func registerDefaultHandlers(r *HandlerRegistry) {
	r.Register(&content.DecodeError{}, HandlerFunc(func(req *httpx.Request, err error) (any, error) {
		return httpx.BadRequest().WithBody(map[string]string{"message": err.Error()}), nil
	}))
	r.Register(&content.BodyTooLargeError{}, HandlerFunc(func(req *httpx.Request, err error) (any, error) {
		return httpx.Status(http.StatusRequestEntityTooLarge).WithBody(map[string]string{"message": err.Error()}), nil
	}))
}

// Recover is the exception-recovery chain, invoked whenever the
// connection surfaces a failure. Priority: an error route scoped to the
// matched route's owner, then the global exception-handler registry, then
// the application's 500 status route, then a bare 500. A failure while
// recovering is logged and downgraded to the next tier; recovery never
// crashes the connection. The connection always closes after an error
// response.
func (d *Dispatcher) Recover(cc ConnectionContext, req *httpx.Request, cause error) {
	d.metrics.Recovered()

	if req != nil {
		req.SetFailure(cause)
		if m, ok := req.MatchedRoute().(route.Match); ok && m != nil {
			if resp, handled := d.tryErrorRoute(req, m.Owner(), cause); handled {
				d.finishError(cc, req, resp, "error_route")
				return
			}
		}
		if resp, handled := d.tryExceptionHandler(req, cause); handled {
			d.finishError(cc, req, resp, "exception_handler")
			return
		}
	}

	d.logger.Error("unexpected error occurred",
		slog.String("error", cause.Error()),
		slog.String("request_id", requestID(req)))
	if pe := (*PanicError)(nil); errors.As(cause, &pe) {
		d.logger.Error("handler panic stack", slog.String("stack", string(pe.Stack)))
	}

	resp := d.genericServerError(req)
	d.finishError(cc, req, resp, "server_error")
}

// tryErrorRoute runs the error route declared for the failure within the
// owner's handler group. Failures inside the attempt are swallowed so the
// chain can fall through.
func (d *Dispatcher) tryErrorRoute(req *httpx.Request, owner string, cause error) (resp *httpx.Response, handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("error route panicked, falling back",
				slog.Any("panic", rec))
			resp, handled = nil, false
		}
	}()
	m, ok := d.router.FindErrorRoute(owner, cause)
	if !ok {
		return nil, false
	}
	m = d.fulfillArguments(m, req)
	if !m.IsExecutable() {
		return nil, false
	}
	result, err := m.Execute()
	if err != nil {
		d.logger.Error("error route failed, falling back",
			slog.String("error", err.Error()))
		return nil, false
	}
	return coerceErrorResult(result), true
}

func (d *Dispatcher) tryExceptionHandler(req *httpx.Request, cause error) (resp *httpx.Response, handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("exception handler panicked, falling back",
				slog.Any("panic", rec))
			resp, handled = nil, false
		}
	}()
	h, ok := d.handlers.Find(cause)
	if !ok {
		return nil, false
	}
	result, err := h.Handle(req, cause)
	if err != nil {
		d.logger.Error("exception handler failed, falling back",
			slog.String("error", err.Error()))
		return nil, false
	}
	return coerceErrorResult(result), true
}

// genericServerError synthesizes the final 500, guarding against the
// status route itself failing.
func (d *Dispatcher) genericServerError(req *httpx.Request) (resp *httpx.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("500 status route panicked, using bare response",
				slog.Any("panic", rec))
			resp = httpx.ServerError()
		}
	}()
	if req == nil {
		return httpx.ServerError()
	}
	return d.synthesizeStatus(500, req, httpx.ServerError())
}

// finishError writes an error response and terminates the connection.
func (d *Dispatcher) finishError(cc ConnectionContext, req *httpx.Request, resp *httpx.Response, outcome string) {
	if err := d.writeResponse(cc, req, resp); err != nil {
		d.logger.Error("error writing error response",
			slog.String("error", err.Error()))
	}
	cc.Close()
	if req != nil {
		req.Release()
		d.metrics.Finished(req.Method(), resp.StatusCode, outcome, time.Now())
	}
}

func coerceErrorResult(result any) *httpx.Response {
	switch v := result.(type) {
	case nil:
		return httpx.ServerError()
	case *httpx.Response:
		return v
	default:
		return httpx.ServerError().WithBody(v)
	}
}

func requestID(req *httpx.Request) string {
	if req == nil {
		return ""
	}
	return req.ID()
}
