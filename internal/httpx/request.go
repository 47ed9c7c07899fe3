// Package httpx holds the request/response model shared by the routing and
// dispatch layers. A Request is bound to one connection for its lifetime and
// owns any buffered body storage; Release returns that storage exactly once.
package httpx

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/outrigger-io/keel/internal/stream"
)

// Request is one HTTP request bound to one connection. The identity fields
// are fixed at construction; the dispatch fields are written by the
// dispatcher goroutine and the single body observer for the request, never
// concurrently by anything else.
type Request struct {
	id      string
	method  string
	path    string
	header  http.Header
	locale  string
	charset string
	remote  string
	native  *http.Request

	mu                 sync.Mutex
	matchedRoute       any
	pathParams         map[string]string
	bodyRequired       bool
	nonBlockingBinder  bool
	body               *bytebufferpool.ByteBuffer
	parsedBody         any
	failure            error
	bodyStream         stream.Publisher
	corsDecorationOwed bool

	releaseOnce sync.Once
	released    bool
}

// NewRequest builds a Request from its parsed native representation.
func NewRequest(native *http.Request) *Request {
	ct := ParseMediaType(native.Header.Get("Content-Type"))
	locale := native.Header.Get("Accept-Language")
	if i := strings.IndexAny(locale, ",;"); i >= 0 {
		locale = locale[:i]
	}
	return &Request{
		id:      uuid.New().String(),
		method:  native.Method,
		path:    native.URL.Path,
		header:  native.Header,
		locale:  strings.TrimSpace(locale),
		charset: ct.Charset("utf-8"),
		remote:  native.RemoteAddr,
		native:  native,
	}
}

func (r *Request) ID() string           { return r.id }
func (r *Request) Method() string       { return r.method }
func (r *Request) Path() string         { return r.path }
func (r *Request) Header() http.Header  { return r.header }
func (r *Request) Locale() string       { return r.locale }
func (r *Request) Charset() string      { return r.charset }
func (r *Request) RemoteAddr() string   { return r.remote }
func (r *Request) Native() *http.Request { return r.native }

// Context returns the native request context.
func (r *Request) Context() context.Context {
	if r.native != nil {
		return r.native.Context()
	}
	return context.Background()
}

// ContentType returns the parsed Content-Type of the request.
func (r *Request) ContentType() MediaType {
	return ParseMediaType(r.header.Get("Content-Type"))
}

// KeepAlive reports whether the request asks for the connection to stay
// open after the response. HTTP/1.1 defaults to keep-alive unless the
// request says otherwise.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.header.Get("Connection"))
	if r.native != nil && r.native.ProtoMajor == 1 && r.native.ProtoMinor == 0 {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// MethodBearsBody reports whether the method conventionally carries a
// request body.
func MethodBearsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// SetMatchedRoute records the current route binding. The dispatcher
// re-records it after each fulfillment or decoration step.
func (r *Request) SetMatchedRoute(m any) {
	r.mu.Lock()
	r.matchedRoute = m
	r.mu.Unlock()
}

// MatchedRoute returns the last recorded route binding, if any.
func (r *Request) MatchedRoute() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchedRoute
}

// SetPathParams records the matched path variables.
func (r *Request) SetPathParams(params map[string]string) {
	r.mu.Lock()
	r.pathParams = params
	r.mu.Unlock()
}

// PathParam returns a matched path variable.
func (r *Request) PathParam(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.pathParams[name]
	return v, ok
}

// SetBodyRequired marks that the route cannot execute until the body has
// been fully received.
func (r *Request) SetBodyRequired(required bool) {
	r.mu.Lock()
	r.bodyRequired = required
	r.mu.Unlock()
}

func (r *Request) BodyRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyRequired
}

// SetNonBlockingBinderRegistered records that a non-blocking body binder
// already produced a value for this request.
func (r *Request) SetNonBlockingBinderRegistered(v bool) {
	r.mu.Lock()
	r.nonBlockingBinder = v
	r.mu.Unlock()
}

func (r *Request) NonBlockingBinderRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonBlockingBinder
}

// AddContent appends a raw body chunk to the request's accumulator and
// releases the chunk.
func (r *Request) AddContent(c stream.Chunk) {
	r.mu.Lock()
	if r.body == nil {
		r.body = bytebufferpool.Get()
	}
	r.body.Write(c.Data) //nolint:errcheck // ByteBuffer.Write cannot fail
	r.mu.Unlock()
	c.Release()
}

// BodyBytes returns the accumulated raw body. The slice is owned by the
// request and valid until Release.
func (r *Request) BodyBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.body == nil {
		return nil
	}
	return r.body.B
}

// SetBody records a decoded body value produced by a content processor.
func (r *Request) SetBody(v any) {
	r.mu.Lock()
	r.parsedBody = v
	r.mu.Unlock()
}

// Body returns the decoded body value, if a processor produced one.
func (r *Request) Body() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parsedBody
}

// SetFailure records the error currently being recovered for this request,
// so error-route handlers can bind it.
func (r *Request) SetFailure(err error) {
	r.mu.Lock()
	r.failure = err
	r.mu.Unlock()
}

func (r *Request) Failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// SetStream attaches the connection's body publisher. Only set for
// streaming-capable native requests.
func (r *Request) SetStream(p stream.Publisher) {
	r.mu.Lock()
	r.bodyStream = p
	r.mu.Unlock()
}

// Stream returns the attached body publisher, if any.
func (r *Request) Stream() (stream.Publisher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyStream, r.bodyStream != nil
}

// IsStreamed reports whether the native request can deliver its body as a
// chunk stream.
func (r *Request) IsStreamed() bool {
	_, ok := r.Stream()
	return ok
}

// MarkCORSDecorationOwed arms one-shot CORS decoration of the eventual
// response for this request.
func (r *Request) MarkCORSDecorationOwed() {
	r.mu.Lock()
	r.corsDecorationOwed = true
	r.mu.Unlock()
}

// ConsumeCORSDecoration reports whether decoration is owed and disarms it,
// so the decoration is applied to at most one response.
func (r *Request) ConsumeCORSDecoration() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owed := r.corsDecorationOwed
	r.corsDecorationOwed = false
	return owed
}

// Release frees resources held while parsing the body. Safe to call from
// any terminal dispatch path; only the first call has an effect.
func (r *Request) Release() {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		if r.body != nil {
			bytebufferpool.Put(r.body)
			r.body = nil
		}
		r.parsedBody = nil
		r.released = true
		r.mu.Unlock()
	})
}

// Released reports whether Release has run.
func (r *Request) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
