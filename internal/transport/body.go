package transport

import (
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/outrigger-io/keel/internal/stream"
)

// bodyPublisher streams a request body as pooled chunks, reading from the
// wire only as fast as the subscriber requests. One Request(1) yields at
// most one chunk.
type bodyPublisher struct {
	body      io.ReadCloser
	chunkSize int
}

func newBodyPublisher(body io.ReadCloser, chunkSize int) *bodyPublisher {
	if chunkSize <= 0 {
		chunkSize = 8 << 10
	}
	return &bodyPublisher{body: body, chunkSize: chunkSize}
}

func (p *bodyPublisher) Subscribe(sub stream.Subscriber) {
	s := &bodySubscription{body: p.body, chunkSize: p.chunkSize}
	s.cond = sync.NewCond(&s.mu)
	sub.OnSubscribe(s)
	go s.pump(sub)
}

type bodySubscription struct {
	body      io.ReadCloser
	chunkSize int

	mu        sync.Mutex
	cond      *sync.Cond
	demand    int
	cancelled bool
}

func (s *bodySubscription) Request(n int) {
	s.mu.Lock()
	s.demand += n
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *bodySubscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cond.Signal()
	s.body.Close() //nolint:errcheck // unblocks a pending read; double close is harmless here
}

// pump reads one chunk per unit of demand until the body is drained or
// the subscription is cancelled.
func (s *bodySubscription) pump(sub stream.Subscriber) {
	for {
		s.mu.Lock()
		for s.demand == 0 && !s.cancelled {
			s.cond.Wait()
		}
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		s.demand--
		s.mu.Unlock()

		bb := bytebufferpool.Get()
		if cap(bb.B) < s.chunkSize {
			bb.B = make([]byte, s.chunkSize)
		}
		bb.B = bb.B[:s.chunkSize]

		n, err := s.body.Read(bb.B)
		if n > 0 {
			bb.B = bb.B[:n]
			sub.OnNext(stream.NewChunk(bb.B, func() { bytebufferpool.Put(bb) }))
		} else {
			bytebufferpool.Put(bb)
		}
		if err == io.EOF {
			sub.OnComplete()
			return
		}
		if err != nil {
			s.mu.Lock()
			cancelled := s.cancelled
			s.mu.Unlock()
			if !cancelled {
				sub.OnError(err)
			}
			return
		}
	}
}
