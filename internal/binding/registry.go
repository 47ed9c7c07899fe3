package binding

import (
	"github.com/outrigger-io/keel/internal/httpx"
)

// Registry holds the known binders in lookup order. Later registrations
// take precedence over the standard set.
type Registry struct {
	binders []Binder
}

// NewRegistry builds a registry with the standard binders: path, query,
// header and the blocking body binder.
func NewRegistry() *Registry {
	return &Registry{
		binders: []Binder{
			pathBinder{},
			queryBinder{},
			headerBinder{},
			requestBinder{},
			failureBinder{},
			bodyBinder{},
		},
	}
}

// Register adds a binder ahead of the existing ones.
func (r *Registry) Register(b Binder) {
	r.binders = append([]Binder{b}, r.binders...)
}

// FindBinder returns the first binder capable of handling the argument for
// this request.
func (r *Registry) FindBinder(arg Argument, req *httpx.Request) (Binder, bool) {
	for _, b := range r.binders {
		if b.Supports(arg) {
			return b, true
		}
	}
	return nil, false
}
