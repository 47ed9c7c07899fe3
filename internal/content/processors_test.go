package content

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/stream"
)

// streamedRequest satisfies the narrow request slice the buffering
// processors need.
type streamedRequest struct {
	pub stream.Publisher
}

func (r *streamedRequest) Stream() (stream.Publisher, bool) {
	return r.pub, r.pub != nil
}

// collector records everything a subscriber observes, pulling one item at
// a time like the dispatcher's body observer does.
type collector struct {
	sub       stream.Subscription
	items     []any
	err       error
	completed bool
}

func (c *collector) OnSubscribe(s stream.Subscription) {
	c.sub = s
	s.Request(1)
}

func (c *collector) OnNext(item any) {
	c.items = append(c.items, item)
	c.sub.Request(1)
}

func (c *collector) OnError(err error) { c.err = err }
func (c *collector) OnComplete()       { c.completed = true }

func chunks(parts ...string) []any {
	items := make([]any, len(parts))
	for i, p := range parts {
		items[i] = stream.NewChunk([]byte(p), nil)
	}
	return items
}

func newBuffering(pub stream.Publisher, mt httpx.MediaType, limit int64, decode func([]byte) (any, error)) *bufferingProcessor {
	return &bufferingProcessor{
		req:       &streamedRequest{pub: pub},
		mediaType: mt,
		limits:    Limits{MaxBodySize: limit},
		enabled:   true,
		decode:    decode,
	}
}

func TestJSONProcessorDecodesAccumulatedBody(t *testing.T) {
	p := newBuffering(stream.FromItems(chunks(`{"name":`, `"anchor","qty":3}`)...), httpx.MediaTypeJSON, 0, decodeJSON)

	c := &collector{}
	p.Subscribe(c)

	require.NoError(t, c.err)
	require.Len(t, c.items, 1)
	body, ok := c.items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "anchor", body["name"])
	assert.Equal(t, float64(3), body["qty"])
	assert.True(t, c.completed)
}

func TestJSONProcessorMalformedBody(t *testing.T) {
	p := newBuffering(stream.FromItems(chunks(`{"broken`)...), httpx.MediaTypeJSON, 0, decodeJSON)

	c := &collector{}
	p.Subscribe(c)

	var decodeErr *DecodeError
	require.ErrorAs(t, c.err, &decodeErr)
	assert.Equal(t, httpx.MediaTypeJSON, decodeErr.MediaType)
	assert.Empty(t, c.items)
	assert.False(t, c.completed)
}

func TestFormProcessorDecodesBody(t *testing.T) {
	p := newBuffering(stream.FromItems(chunks("name=anchor&qty=3")...), httpx.MediaTypeForm, 0, decodeForm)

	c := &collector{}
	p.Subscribe(c)

	require.NoError(t, c.err)
	require.Len(t, c.items, 1)
	values, ok := c.items[0].(url.Values)
	require.True(t, ok)
	assert.Equal(t, "anchor", values.Get("name"))
}

func TestBufferingProcessorEnforcesSizeLimit(t *testing.T) {
	big := strings.Repeat("x", 64)
	p := newBuffering(stream.FromItems(chunks(big, big)...), httpx.MediaTypeJSON, 100, decodeJSON)

	c := &collector{}
	p.Subscribe(c)

	var tooLarge *BodyTooLargeError
	require.ErrorAs(t, c.err, &tooLarge)
	assert.Equal(t, int64(100), tooLarge.Limit)
	assert.Empty(t, c.items)
}

func TestBufferingProcessorHoldsValueUntilDemand(t *testing.T) {
	p := newBuffering(stream.FromItems(chunks(`"v"`)...), httpx.MediaTypeJSON, 0, decodeJSON)

	// A subscriber that never pulls on subscribe.
	c := &collector{}
	var sub stream.Subscription
	p.Subscribe(subscriberFuncs{
		onSubscribe: func(s stream.Subscription) { sub = s },
		onNext:      c.OnNext,
		onError:     c.OnError,
		onComplete:  c.OnComplete,
	})
	require.NotNil(t, sub)
	c.sub = sub

	assert.Empty(t, c.items, "decoded value held back without demand")

	sub.Request(1)
	require.Len(t, c.items, 1)
	assert.Equal(t, "v", c.items[0])
	assert.True(t, c.completed)
}

func TestBufferingProcessorPropagatesUpstreamError(t *testing.T) {
	p := newBuffering(stream.FromItemsThenError(assert.AnError, chunks("{}")...), httpx.MediaTypeJSON, 0, decodeJSON)

	c := &collector{}
	p.Subscribe(c)

	assert.ErrorIs(t, c.err, assert.AnError)
	assert.Empty(t, c.items)
}

func TestBufferingProcessorWithoutStream(t *testing.T) {
	p := &bufferingProcessor{req: &streamedRequest{}, enabled: true, decode: decodeJSON}
	c := &collector{}
	p.Subscribe(c)
	assert.Error(t, c.err)
}

func TestRawProcessorRelaysChunksOnDemand(t *testing.T) {
	native := httptest.NewRequest("POST", "/", nil)
	req := httpx.NewRequest(native)
	req.SetStream(stream.FromItems(chunks("one", "two", "three")...))

	p := NewDefaultProcessor(req, Limits{})
	c := &collector{}
	p.Subscribe(c)

	// One pull per chunk: three chunks arrive, then completion.
	require.Len(t, c.items, 3)
	first, ok := c.items[0].(stream.Chunk)
	require.True(t, ok)
	assert.Equal(t, "one", string(first.Data))
	assert.True(t, c.completed)
	assert.NoError(t, c.err)
}

func TestRawProcessorEnforcesSizeLimit(t *testing.T) {
	native := httptest.NewRequest("POST", "/", nil)
	req := httpx.NewRequest(native)
	req.SetStream(stream.FromItems(chunks("0123456789", "0123456789")...))

	p := NewDefaultProcessor(req, Limits{MaxBodySize: 15})
	c := &collector{}
	p.Subscribe(c)

	var tooLarge *BodyTooLargeError
	require.ErrorAs(t, c.err, &tooLarge)
	assert.Len(t, c.items, 1, "only the first chunk got through")
	assert.False(t, c.completed)
}

func TestFactoryRegistryLookup(t *testing.T) {
	reg := NewFactoryRegistry()
	reg.Register(NewJSONFactory(Limits{}, true))
	reg.Register(NewFormFactory(Limits{}, false))

	f, ok := reg.Lookup(httpx.MediaTypeJSON)
	require.True(t, ok)
	assert.Equal(t, httpx.MediaTypeJSON, f.MediaType())

	f, ok = reg.Lookup(httpx.MediaTypeForm)
	require.True(t, ok)
	req := httpx.NewRequest(httptest.NewRequest("POST", "/", nil))
	assert.False(t, f.Build(req).IsEnabled())

	_, ok = reg.Lookup(httpx.MediaTypeOctets)
	assert.False(t, ok)
}

// subscriberFuncs adapts closures to stream.Subscriber.
type subscriberFuncs struct {
	onSubscribe func(stream.Subscription)
	onNext      func(any)
	onError     func(error)
	onComplete  func()
}

func (s subscriberFuncs) OnSubscribe(sub stream.Subscription) { s.onSubscribe(sub) }
func (s subscriberFuncs) OnNext(item any)                     { s.onNext(item) }
func (s subscriberFuncs) OnError(err error)                   { s.onError(err) }
func (s subscriberFuncs) OnComplete()                         { s.onComplete() }
