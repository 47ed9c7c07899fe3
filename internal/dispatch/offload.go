package dispatch

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outrigger-io/keel/internal/executor"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
)

// prepareForExecution decorates the match so that executing it submits the
// real work to the selected worker pool, falling back to the calling
// goroutine when no pool applies. The offloaded unit performs handler
// invocation, result coercion, error-status remapping, the response write
// with its close policy, and the request's final release.
func (d *Dispatcher) prepareForExecution(cc ConnectionContext, req *httpx.Request, m route.Match, started time.Time) route.Match {
	exec, ok := d.selector.Select(m)
	if !ok {
		exec = executor.Inline{}
	}
	return m.Decorate(func(final route.Match) (any, error) {
		exec.Submit(func() {
			d.runRoute(cc, req, final, started)
		})
		return nil, nil
	})
}

func (d *Dispatcher) runRoute(cc ConnectionContext, req *httpx.Request, final route.Match, started time.Time) {
	defer req.Release()
	defer func() {
		if rec := recover(); rec != nil {
			d.Recover(cc, req, &PanicError{Value: rec, Stack: debug.Stack()})
		}
	}()

	ctx, span := d.tracer.Start(req.Context(), "keel.execute",
		trace.WithAttributes(
			attribute.String("keel.route.pattern", final.Pattern()),
			attribute.String("keel.route.owner", final.Owner()),
		))
	defer span.End()

	result, err := final.Execute()
	if err != nil {
		var unsatisfied *route.UnsatisfiedRouteError
		if errors.As(err, &unsatisfied) {
			d.logger.DebugContext(ctx, "route arguments unsatisfied at execution",
				slog.String("argument", unsatisfied.Argument),
				slog.String("request_id", req.ID()))
			result = d.synthesizeStatus(400, req, httpx.BadRequest())
		} else {
			span.SetStatus(codes.Error, err.Error())
			d.Recover(cc, req, err)
			return
		}
	}

	resp := d.coerceResult(cc, result)

	// Give the application a chance to remap error and redirect bodies
	// per status code.
	if resp.StatusCode >= 300 {
		if remapped, rerr := d.remapStatus(resp, req); rerr != nil {
			d.Recover(cc, req, rerr)
			return
		} else if remapped != nil {
			resp = remapped
		}
	}

	if werr := d.writeResponse(cc, req, resp); werr != nil {
		d.logger.ErrorContext(ctx, "error writing response",
			slog.String("error", werr.Error()),
			slog.String("request_id", req.ID()))
		if cc.IsWritable() {
			d.Recover(cc, req, werr)
		} else {
			cc.Close()
		}
		return
	}
	if resp.CloseAfterWrite(req) {
		cc.Close()
	}
	d.metrics.Finished(req.Method(), resp.StatusCode, "handled", started)
}

// coerceResult turns a handler result into a response: an empty result
// falls back to any response attached to the connection, then to 200 OK;
// a non-response value becomes a 200 body.
func (d *Dispatcher) coerceResult(cc ConnectionContext, result any) *httpx.Response {
	switch v := result.(type) {
	case nil:
		if attached := cc.AttachedResponse(); attached != nil {
			return attached
		}
		return httpx.OK()
	case *httpx.Response:
		return v
	default:
		return httpx.OK().WithBody(v)
	}
}

// remapStatus runs the status route registered for the response's code, if
// any. Returns nil when no remap applies, so the caller keeps the
// original.
func (d *Dispatcher) remapStatus(resp *httpx.Response, req *httpx.Request) (*httpx.Response, error) {
	m, ok := d.router.FindStatusRoute(resp.StatusCode)
	if !ok {
		return nil, nil
	}
	m = d.fulfillArguments(m, req)
	if !m.IsExecutable() {
		return nil, nil
	}
	result, err := m.Execute()
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case nil:
		return nil, nil
	case *httpx.Response:
		return v, nil
	default:
		// Keep the status, replace the body.
		remapped := httpx.Status(resp.StatusCode).WithBody(v)
		for k, vals := range resp.Header {
			remapped.Header[k] = vals
		}
		return remapped, nil
	}
}
