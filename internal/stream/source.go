package stream

import "sync"

// sourcePublisher replays a fixed set of items honoring downstream demand.
// Used for in-memory bodies and as the reference Publisher in tests.
type sourcePublisher struct {
	items []any
	err   error

	mu         sync.Mutex
	sub        Subscriber
	pos        int
	demand     int
	delivering bool
	cancelled  bool
	terminated bool
}

// FromItems returns a Publisher that delivers the given items in order and
// then completes.
func FromItems(items ...any) Publisher {
	return &sourcePublisher{items: items}
}

// FromItemsThenError returns a Publisher that delivers the given items in
// order and then fails with err instead of completing.
func FromItemsThenError(err error, items ...any) Publisher {
	return &sourcePublisher{items: items, err: err}
}

func (p *sourcePublisher) Subscribe(sub Subscriber) {
	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		panic("stream: publisher subscribed twice")
	}
	p.sub = sub
	p.mu.Unlock()
	sub.OnSubscribe(p)
}

// Request drains as much demand as it can. Reentrant calls from OnNext only
// bump the demand counter; the outermost call owns the delivery loop, so the
// stack stays flat no matter how many items are pulled.
func (p *sourcePublisher) Request(n int) {
	p.mu.Lock()
	p.demand += n
	if p.delivering || p.terminated {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	for p.demand > 0 && !p.cancelled && p.pos < len(p.items) {
		item := p.items[p.pos]
		p.pos++
		p.demand--
		p.mu.Unlock()
		p.sub.OnNext(item)
		p.mu.Lock()
	}
	if !p.cancelled && !p.terminated && p.pos == len(p.items) {
		p.terminated = true
		err := p.err
		p.mu.Unlock()
		if err != nil {
			p.sub.OnError(err)
		} else {
			p.sub.OnComplete()
		}
		p.mu.Lock()
	}
	p.delivering = false
	p.mu.Unlock()
}

func (p *sourcePublisher) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
}
