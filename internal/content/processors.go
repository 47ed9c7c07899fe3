package content

import (
	"errors"
	"net/url"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/valyala/bytebufferpool"

	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/stream"
)

var errNotStreamed = errors.New("content: request has no body stream")

// NewDefaultProcessor returns the processor used when no factory is
// registered for the request's media type: chunks flow through to the
// subscriber unchanged, bounded only by the body size limit. Downstream
// demand drives the upstream directly, so one pull means one chunk.
func NewDefaultProcessor(req *httpx.Request, limits Limits) Processor {
	return &rawProcessor{req: req, limits: limits}
}

type rawProcessor struct {
	req    *httpx.Request
	limits Limits
}

func (p *rawProcessor) IsEnabled() bool { return true }

func (p *rawProcessor) Subscribe(sub stream.Subscriber) {
	up, ok := p.req.Stream()
	if !ok {
		sub.OnError(errNotStreamed)
		return
	}
	up.Subscribe(&rawRelay{down: sub, limit: p.limits.MaxBodySize})
}

type rawRelay struct {
	down  stream.Subscriber
	sub   stream.Subscription
	limit int64
	seen  int64
	done  bool
}

func (r *rawRelay) OnSubscribe(s stream.Subscription) {
	r.sub = s
	r.down.OnSubscribe(s)
}

func (r *rawRelay) OnNext(item any) {
	if chunk, ok := item.(stream.Chunk); ok && r.limit > 0 {
		r.seen += int64(len(chunk.Data))
		if r.seen > r.limit {
			chunk.Release()
			r.done = true
			r.sub.Cancel()
			r.down.OnError(&BodyTooLargeError{Limit: r.limit})
			return
		}
	}
	r.down.OnNext(item)
}

func (r *rawRelay) OnError(err error) {
	if !r.done {
		r.done = true
		r.down.OnError(err)
	}
}

func (r *rawRelay) OnComplete() {
	if !r.done {
		r.done = true
		r.down.OnComplete()
	}
}

// bufferingProcessor accumulates the whole body and emits a single decoded
// value at completion. It drives upstream demand itself, one chunk in
// flight, and republishes to the subscriber honoring its demand.
type bufferingProcessor struct {
	req       hreq
	mediaType httpx.MediaType
	limits    Limits
	enabled   bool
	decode    func(data []byte) (any, error)
}

// hreq is the slice of httpx.Request the processors need. Narrowed for
// tests.
type hreq interface {
	Stream() (stream.Publisher, bool)
}

func (p *bufferingProcessor) IsEnabled() bool { return p.enabled }

func (p *bufferingProcessor) Subscribe(sub stream.Subscriber) {
	up, ok := p.req.Stream()
	if !ok {
		sub.OnError(errNotStreamed)
		return
	}
	relay := &bufferingRelay{
		down:      sub,
		mediaType: p.mediaType,
		limit:     p.limits.MaxBodySize,
		decode:    p.decode,
		buf:       bytebufferpool.Get(),
	}
	up.Subscribe(relay)
}

type bufferingRelay struct {
	down      stream.Subscriber
	mediaType httpx.MediaType
	limit     int64
	decode    func(data []byte) (any, error)

	up  stream.Subscription
	buf *bytebufferpool.ByteBuffer

	mu        sync.Mutex
	demand    int
	pending   any
	hasValue  bool
	completed bool
	done      bool
}

func (r *bufferingRelay) OnSubscribe(s stream.Subscription) {
	r.up = s
	r.down.OnSubscribe(r)
	s.Request(1)
}

// Request implements the downstream subscription: decoded values are held
// until the subscriber asks for them.
func (r *bufferingRelay) Request(n int) {
	r.mu.Lock()
	r.demand += n
	deliver := r.hasValue && r.demand > 0
	var value any
	var complete bool
	if deliver {
		value = r.pending
		r.pending = nil
		r.hasValue = false
		r.demand--
		complete = r.completed
		r.done = r.done || complete
	}
	r.mu.Unlock()
	if deliver {
		r.down.OnNext(value)
		if complete {
			r.down.OnComplete()
		}
	}
}

// Cancel implements the downstream subscription.
func (r *bufferingRelay) Cancel() {
	r.release()
	r.up.Cancel()
}

func (r *bufferingRelay) OnNext(item any) {
	chunk, ok := item.(stream.Chunk)
	if !ok {
		r.up.Request(1)
		return
	}
	r.buf.Write(chunk.Data) //nolint:errcheck // ByteBuffer.Write cannot fail
	chunk.Release()
	if r.limit > 0 && int64(r.buf.Len()) > r.limit {
		r.release()
		r.up.Cancel()
		r.fail(&BodyTooLargeError{Limit: r.limit})
		return
	}
	r.up.Request(1)
}

func (r *bufferingRelay) OnError(err error) {
	r.release()
	r.fail(err)
}

func (r *bufferingRelay) OnComplete() {
	value, err := r.decode(r.buf.B)
	r.release()
	if err != nil {
		r.fail(&DecodeError{MediaType: r.mediaType, Err: err})
		return
	}
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	if r.demand > 0 {
		r.demand--
		r.done = true
		r.mu.Unlock()
		r.down.OnNext(value)
		r.down.OnComplete()
		return
	}
	r.pending = value
	r.hasValue = true
	r.completed = true
	r.mu.Unlock()
}

func (r *bufferingRelay) fail(err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()
	r.down.OnError(err)
}

func (r *bufferingRelay) release() {
	if r.buf != nil {
		bytebufferpool.Put(r.buf)
		r.buf = nil
	}
}

func decodeJSON(data []byte) (any, error) {
	// string conversion copies, so the decoded values do not alias the
	// pooled buffer.
	doc := string(data)
	if !gjson.Valid(doc) {
		return nil, errors.New("malformed JSON")
	}
	return gjson.Parse(doc).Value(), nil
}

func decodeForm(data []byte) (any, error) {
	return url.ParseQuery(string(data))
}
