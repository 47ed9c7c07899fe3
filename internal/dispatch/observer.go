package dispatch

import (
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
	"github.com/outrigger-io/keel/internal/stream"
)

// bodyObserver is the single-in-flight subscriber that accumulates the
// request body: it pulls exactly one item at a time from the content
// processor, stores raw chunks or decoded values on the request, and pulls
// the next only after the current one is consumed. Memory stays bounded to
// one outstanding chunk regardless of body size.
type bodyObserver struct {
	d     *Dispatcher
	cc    ConnectionContext
	req   *httpx.Request
	match route.Match
	sub   stream.Subscription
}

func (o *bodyObserver) OnSubscribe(s stream.Subscription) {
	o.sub = s
	s.Request(1)
}

func (o *bodyObserver) OnNext(item any) {
	switch v := item.(type) {
	case stream.Chunk:
		o.req.AddContent(v)
	default:
		o.req.SetBody(v)
	}
	o.d.metrics.ChunkProcessed()
	o.sub.Request(1)
}

// OnError cancels the subscription and surfaces the failure at the
// connection level, where the recovery chain takes over.
func (o *bodyObserver) OnError(err error) {
	o.sub.Cancel()
	o.d.Recover(o.cc, o.req, err)
}

// OnComplete triggers final execution of the offload-decorated match. Any
// deferred body-dependent suppliers now resolve against the complete body.
func (o *bodyObserver) OnComplete() {
	o.match.Execute() //nolint:errcheck // decorated execution reports through the connection
}
