package dispatch

import (
	"fmt"

	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
)

// fulfillArguments resolves the match's required arguments against the
// request and applies them in one fulfillment step, producing the match
// used for the rest of the dispatch.
//
// Resolution per argument: a non-blocking body binder is invoked now and
// marks the request when it yields; a blocking body binder is deferred to
// body completion and forces bodyRequired, but only for methods that can
// carry a body at all; an ordinary binder is invoked now, with absence
// valid for optional arguments and retried after the body arrives for
// write-style methods.
func (d *Dispatcher) fulfillArguments(m route.Match, req *httpx.Request) route.Match {
	required := m.RequiredArguments()
	if len(required) == 0 {
		return m.Fulfill(nil)
	}

	values := make(map[string]any, len(required))
	for _, arg := range required {
		binder, ok := d.binders.FindBinder(arg, req)
		if !ok {
			continue
		}
		bctx := binding.NewContext(arg, req)
		switch b := binder.(type) {
		case binding.NonBlockingBodyBinder:
			if v, present := b.Bind(bctx, req); present {
				values[arg.Name] = wrapOptional(arg, v)
				req.SetNonBlockingBinderRegistered(true)
			}
		case binding.BodyBinder:
			if !httpx.MethodBearsBody(req.Method()) {
				// No body will ever arrive; leave the argument
				// unresolved so the match is not executable.
				continue
			}
			values[arg.Name] = deferredBind(b, arg, req)
			req.SetBodyRequired(true)
		default:
			v, present := b.Bind(bctx, req)
			switch {
			case arg.Optional:
				if present {
					values[arg.Name] = binding.Some(v)
				} else {
					values[arg.Name] = binding.None()
				}
			case present:
				values[arg.Name] = v
			case httpx.MethodBearsBody(req.Method()):
				// The value may depend on body-derived state; retry
				// once the body is complete, surfacing the last
				// conversion error if it still fails.
				values[arg.Name] = deferredBind(b, arg, req)
			}
		}
	}
	return m.Fulfill(values)
}

// deferredBind wraps a binder invocation as a supplier resolved once the
// body is fully available.
func deferredBind(b binding.Binder, arg binding.Argument, req *httpx.Request) binding.Deferred {
	return func() (any, error) {
		bctx := binding.NewContext(arg, req)
		v, present := b.Bind(bctx, req)
		if err := bctx.LastError(); err != nil {
			return nil, err
		}
		if !present {
			if arg.Optional {
				return binding.None(), nil
			}
			return nil, fmt.Errorf("no value available for argument %q", arg.Name)
		}
		return wrapOptional(arg, v), nil
	}
}

func wrapOptional(arg binding.Argument, v any) any {
	if arg.Optional {
		return binding.Some(v)
	}
	return v
}
