package content

import (
	"github.com/outrigger-io/keel/internal/httpx"
)

type factory struct {
	mediaType httpx.MediaType
	limits    Limits
	enabled   bool
	decode    func(data []byte) (any, error)
}

func (f *factory) MediaType() httpx.MediaType { return f.mediaType }

func (f *factory) Build(req *httpx.Request) Processor {
	return &bufferingProcessor{
		req:       req,
		mediaType: f.mediaType,
		limits:    f.limits,
		enabled:   f.enabled,
		decode:    f.decode,
	}
}

// NewJSONFactory builds processors that accumulate the body and emit one
// decoded JSON document.
func NewJSONFactory(limits Limits, enabled bool) Factory {
	return &factory{
		mediaType: httpx.MediaTypeJSON,
		limits:    limits,
		enabled:   enabled,
		decode:    decodeJSON,
	}
}

// NewFormFactory builds processors decoding url-encoded form bodies into
// url.Values.
func NewFormFactory(limits Limits, enabled bool) Factory {
	return &factory{
		mediaType: httpx.MediaTypeForm,
		limits:    limits,
		enabled:   enabled,
		decode:    decodeForm,
	}
}
