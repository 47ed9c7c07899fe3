// Package content turns streamed request body chunks into decoded values.
// A Processor is a per-request, single-use pipeline stage: it subscribes to
// the request's chunk stream and republishes zero or more decoded values to
// the dispatcher's body observer, preserving the observer's backpressure.
package content

import (
	"fmt"
	"strconv"

	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/stream"
)

// Processor consumes the body chunk stream of one request. Subscribe may be
// called at most once. After the subscriber sees OnComplete or OnError no
// further items are delivered.
type Processor interface {
	// IsEnabled reports whether this processor may run for its request;
	// a disabled processor causes the dispatcher to reject the request.
	IsEnabled() bool
	Subscribe(sub stream.Subscriber)
}

// Factory builds processors for a media type.
type Factory interface {
	MediaType() httpx.MediaType
	Build(req *httpx.Request) Processor
}

// Limits bounds body ingestion.
type Limits struct {
	// MaxBodySize is the largest accepted accumulated body in bytes.
	// Zero means unlimited.
	MaxBodySize int64
}

// DecodeError reports a body that could not be decoded for its media type.
type DecodeError struct {
	MediaType httpx.MediaType
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s body: %v", e.MediaType.Name(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BodyTooLargeError reports a body exceeding the configured limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return "request body exceeds limit of " + strconv.FormatInt(e.Limit, 10) + " bytes"
}

// FactoryRegistry holds processor factories keyed by the media type they
// consume.
type FactoryRegistry struct {
	factories []Factory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{}
}

// Register adds a factory. Earlier registrations win on overlap.
func (r *FactoryRegistry) Register(f Factory) {
	r.factories = append(r.factories, f)
}

// Lookup returns the first factory consuming the media type.
func (r *FactoryRegistry) Lookup(mt httpx.MediaType) (Factory, bool) {
	for _, f := range r.factories {
		if f.MediaType().Matches(mt) {
			return f, true
		}
	}
	return nil, false
}
