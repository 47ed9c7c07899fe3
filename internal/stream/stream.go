// Package stream defines the pull-based streaming contract used to feed
// request bodies through the dispatch pipeline. A Publisher produces a lazy,
// finite, non-restartable sequence of items; the Subscriber pulls them one at
// a time through its Subscription, and the producer yields control between
// items. Cancellation stops production immediately.
package stream

// Subscription controls demand for a single subscriber.
type Subscription interface {
	// Request signals demand for n more items. Implementations never
	// deliver more items than requested.
	Request(n int)
	// Cancel stops production. No further items are delivered after
	// Cancel returns, though an item already in flight may still arrive.
	Cancel()
}

// Subscriber receives items from a Publisher. For any subscription exactly
// one of the sequences (OnNext* OnComplete) or (OnNext* OnError) is observed.
type Subscriber interface {
	OnSubscribe(s Subscription)
	OnNext(item any)
	OnError(err error)
	OnComplete()
}

// Publisher is a single-use source of items. Subscribe may be called at most
// once; the publisher calls OnSubscribe before delivering anything.
type Publisher interface {
	Subscribe(sub Subscriber)
}

// Chunk is one raw piece of a request body. Release returns any pooled
// backing storage and must be called exactly once by the final consumer.
type Chunk struct {
	Data    []byte
	release func()
}

// NewChunk wraps data with an optional release hook.
func NewChunk(data []byte, release func()) Chunk {
	return Chunk{Data: data, release: release}
}

// Release frees the chunk's backing storage, if any.
func (c Chunk) Release() {
	if c.release != nil {
		c.release()
	}
}
