package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"

	"github.com/outrigger-io/keel/internal/httpx"
)

// connContext adapts one net/http exchange to the dispatcher's view of a
// connection. The handler goroutine parks in wait() while dispatch runs,
// possibly on a worker pool; exactly one of Write or Close unparks it.
type connContext struct {
	w   http.ResponseWriter
	r   *http.Request
	req *httpx.Request

	mu       sync.Mutex
	written  bool
	aborted  bool
	attached *httpx.Response

	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger
}

func newConnContext(w http.ResponseWriter, r *http.Request, req *httpx.Request, logger *slog.Logger) *connContext {
	return &connContext{
		w:      w,
		r:      r,
		req:    req,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Write renders the response onto the underlying connection. The close
// policy is encoded as a Connection header before the body goes out,
// since net/http owns the socket.
func (c *connContext) Write(resp *httpx.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return fmt.Errorf("connection already closed")
	}
	if c.written {
		return fmt.Errorf("response already written")
	}

	header := c.w.Header()
	for k, vals := range resp.Header {
		header[k] = vals
	}
	if resp.CloseAfterWrite(c.req) {
		header.Set("Connection", "close")
	}

	render.Status(c.r, resp.StatusCode)
	switch body := resp.Body.(type) {
	case nil:
		c.w.WriteHeader(resp.StatusCode)
	case []byte:
		render.Data(c.w, c.r, body)
	case string:
		render.PlainText(c.w, c.r, body)
	default:
		render.JSON(c.w, c.r, body)
	}

	c.written = true
	c.signal()
	return nil
}

// IsWritable reports whether a response can still be attempted.
func (c *connContext) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.written && !c.aborted
}

// Close terminates the connection. Before a response is written this
// aborts the exchange outright; after one, the close was already encoded
// in the response's Connection header.
func (c *connContext) Close() {
	c.mu.Lock()
	if !c.written {
		c.aborted = true
	}
	c.mu.Unlock()
	c.signal()
}

// Attach pre-binds a response to the connection for handlers that build
// one out of band and return nil.
func (c *connContext) Attach(resp *httpx.Response) {
	c.mu.Lock()
	c.attached = resp
	c.mu.Unlock()
}

// AttachedResponse returns the pre-bound response, if any.
func (c *connContext) AttachedResponse() *httpx.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

func (c *connContext) signal() {
	c.doneOnce.Do(func() { close(c.done) })
}

// wait blocks until the dispatch reaches a terminal state and reports
// whether the exchange was aborted without a response.
func (c *connContext) wait() (aborted bool) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted && !c.written
}
