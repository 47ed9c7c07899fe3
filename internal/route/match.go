package route

import (
	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/httpx"
)

// match is the Match implementation for registry routes. Each fulfillment
// or decoration step copies the value, so earlier references stay valid.
type match struct {
	route     *Route
	params    map[string]string
	values    map[string]any
	decorator DecoratorFunc
}

func newMatch(r *Route, params map[string]string) *match {
	return &match{route: r, params: params}
}

func (m *match) Owner() string        { return m.route.owner }
func (m *match) Name() string         { return m.route.name }
func (m *match) Method() string       { return m.route.method }
func (m *match) Pattern() string      { return m.route.pattern }
func (m *match) ExecutorName() string { return m.route.executor }

func (m *match) RequiredArguments() []binding.Argument { return m.route.args }
func (m *match) ArgumentValues() map[string]any        { return m.values }
func (m *match) PathParams() map[string]string         { return m.params }

func (m *match) Test(req *httpx.Request) bool {
	for _, p := range m.route.preds {
		if !p(req) {
			return false
		}
	}
	return true
}

func (m *match) Accepts(ct httpx.MediaType) bool {
	if len(m.route.consumes) == 0 || ct.IsZero() {
		return true
	}
	for _, c := range m.route.consumes {
		if c.Matches(ct) {
			return true
		}
	}
	return false
}

func (m *match) Fulfill(values map[string]any) Match {
	next := *m
	next.values = make(map[string]any, len(m.values)+len(values))
	for k, v := range m.values {
		next.values[k] = v
	}
	for k, v := range values {
		next.values[k] = v
	}
	return &next
}

func (m *match) Decorate(fn DecoratorFunc) Match {
	next := *m
	next.decorator = fn
	return &next
}

func (m *match) IsExecutable() bool {
	for _, a := range m.route.args {
		if _, ok := m.values[a.Name]; !ok {
			return false
		}
	}
	return true
}

func (m *match) Execute() (any, error) {
	if m.decorator != nil {
		inner := *m
		inner.decorator = nil
		return m.decorator(&inner)
	}
	args := make(Args, len(m.route.args))
	for _, a := range m.route.args {
		v, ok := m.values[a.Name]
		if !ok {
			return nil, &UnsatisfiedRouteError{Argument: a.Name}
		}
		if deferred, isDeferred := v.(binding.Deferred); isDeferred {
			resolved, err := deferred()
			if err != nil {
				return nil, &UnsatisfiedRouteError{Argument: a.Name, Err: err}
			}
			v = resolved
		}
		args[a.Name] = v
	}
	return m.route.handler(args)
}
