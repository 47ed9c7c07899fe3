package binding

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/outrigger-io/keel/internal/httpx"
)

// pathBinder resolves path variables recorded on the request at route time.
type pathBinder struct{}

func (pathBinder) Supports(arg Argument) bool { return arg.Source == SourcePath }

func (pathBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	v, ok := req.PathParam(ctx.Argument.Name)
	if !ok {
		return nil, false
	}
	return v, true
}

// queryBinder resolves query parameters.
type queryBinder struct{}

func (queryBinder) Supports(arg Argument) bool { return arg.Source == SourceQuery }

func (queryBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	q := req.Native().URL.Query()
	if !q.Has(ctx.Argument.Name) {
		return nil, false
	}
	return q.Get(ctx.Argument.Name), true
}

// headerBinder resolves header values.
type headerBinder struct{}

func (headerBinder) Supports(arg Argument) bool { return arg.Source == SourceHeader }

func (headerBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	v := req.Header().Get(ctx.Argument.Name)
	if v == "" {
		return nil, false
	}
	return v, true
}

// bodyBinder is the default blocking body binder. It resolves from the
// processor-decoded body when one exists, otherwise decodes the raw
// accumulated bytes by content type. It only yields values once the body is
// complete, so fulfillment always defers it.
type bodyBinder struct{}

func (bodyBinder) Supports(arg Argument) bool { return arg.Source == SourceBody }
func (bodyBinder) BindsBody()                 {}

func (bodyBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	if parsed := req.Body(); parsed != nil {
		return lookup(ctx, parsed, ctx.Argument.BodyPath)
	}
	raw := req.BodyBytes()
	if len(raw) == 0 {
		return nil, false
	}
	ct := req.ContentType()
	switch {
	case httpx.MediaTypeJSON.Matches(ct):
		if !gjson.ValidBytes(raw) {
			ctx.SetError(&ConversionError{Argument: ctx.Argument.Name, Err: fmt.Errorf("malformed JSON body")})
			return nil, false
		}
		if ctx.Argument.BodyPath != "" {
			res := gjson.GetBytes(raw, ctx.Argument.BodyPath)
			if !res.Exists() {
				return nil, false
			}
			return res.Value(), true
		}
		return gjson.ParseBytes(raw).Value(), true
	case httpx.MediaTypeForm.Matches(ct):
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			ctx.SetError(&ConversionError{Argument: ctx.Argument.Name, Err: err})
			return nil, false
		}
		return lookup(ctx, values, ctx.Argument.BodyPath)
	default:
		return raw, true
	}
}

// requestBinder injects the request itself.
type requestBinder struct{}

func (requestBinder) Supports(arg Argument) bool { return arg.Source == SourceRequest }

func (requestBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	return req, true
}

// failureBinder injects the error under recovery. Absent outside the
// recovery path.
type failureBinder struct{}

func (failureBinder) Supports(arg Argument) bool { return arg.Source == SourceFailure }

func (failureBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	if err := req.Failure(); err != nil {
		return err, true
	}
	return nil, false
}

// parsedBodyBinder is a non-blocking body binder: it yields a value only
// when a live parse already decoded the body, and stays silent otherwise so
// resolution falls back to body completion.
type parsedBodyBinder struct{}

func (parsedBodyBinder) Supports(arg Argument) bool { return arg.Source == SourceBody }
func (parsedBodyBinder) BindsBody()                 {}
func (parsedBodyBinder) NonBlocking()               {}

func (parsedBodyBinder) Bind(ctx *Context, req *httpx.Request) (any, bool) {
	parsed := req.Body()
	if parsed == nil {
		return nil, false
	}
	return lookup(ctx, parsed, ctx.Argument.BodyPath)
}

// NewParsedBodyBinder returns the non-blocking binder resolving from an
// already-decoded body.
func NewParsedBodyBinder() NonBlockingBodyBinder { return parsedBodyBinder{} }

func lookup(ctx *Context, parsed any, path string) (any, bool) {
	if path == "" {
		return parsed, true
	}
	switch v := parsed.(type) {
	case map[string]any:
		val, ok := v[path]
		return val, ok
	case url.Values:
		if !v.Has(path) {
			return nil, false
		}
		return v.Get(path), true
	default:
		ctx.SetError(&ConversionError{
			Argument: ctx.Argument.Name,
			Err:      fmt.Errorf("body of type %T has no addressable field %q", parsed, path),
		})
		return nil, false
	}
}
