package httpx

import (
	"net/http"
	"strings"
)

// Response is a mutable HTTP response under construction. Headers stay
// mutable until the transport writes it, so edge decorators (CORS) can
// amend them.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       any
}

// Status creates an empty response with the given status code.
func Status(code int) *Response {
	return &Response{StatusCode: code, Header: make(http.Header)}
}

// OK creates an empty 200 response.
func OK() *Response { return Status(http.StatusOK) }

// BadRequest creates an empty 400 response.
func BadRequest() *Response { return Status(http.StatusBadRequest) }

// NotFound creates an empty 404 response.
func NotFound() *Response { return Status(http.StatusNotFound) }

// NotAllowed creates a 405 response advertising the allowed methods.
func NotAllowed(methods ...string) *Response {
	r := Status(http.StatusMethodNotAllowed)
	r.Header.Set("Allow", strings.Join(methods, ", "))
	return r
}

// UnsupportedMediaType creates an empty 415 response.
func UnsupportedMediaType() *Response { return Status(http.StatusUnsupportedMediaType) }

// TooManyRequests creates an empty 429 response.
func TooManyRequests() *Response { return Status(http.StatusTooManyRequests) }

// ServerError creates an empty 500 response.
func ServerError() *Response { return Status(http.StatusInternalServerError) }

// WithBody sets the response body and returns the response.
func (r *Response) WithBody(v any) *Response {
	r.Body = v
	return r
}

// WithHeader sets a header and returns the response.
func (r *Response) WithHeader(key, value string) *Response {
	r.Header.Set(key, value)
	return r
}

// ContentType returns the declared Content-Type of the response.
func (r *Response) ContentType() MediaType {
	return ParseMediaType(r.Header.Get("Content-Type"))
}

// CloseAfterWrite reports whether the connection must be closed once this
// response is flushed. Error and redirect statuses always terminate the
// connection; otherwise the request's own keep-alive preference decides.
func (r *Response) CloseAfterWrite(req *Request) bool {
	if r.StatusCode >= 300 {
		return true
	}
	if req == nil {
		return false
	}
	return !req.KeepAlive()
}
