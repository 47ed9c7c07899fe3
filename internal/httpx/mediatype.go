package httpx

import (
	"mime"
	"strings"
)

// MediaType is a parsed Content-Type value.
type MediaType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// Well-known media types.
var (
	MediaTypeAll       = MediaType{Type: "*", Subtype: "*"}
	MediaTypeJSON      = MediaType{Type: "application", Subtype: "json"}
	MediaTypeForm      = MediaType{Type: "application", Subtype: "x-www-form-urlencoded"}
	MediaTypeMultipart = MediaType{Type: "multipart", Subtype: "form-data"}
	MediaTypeText      = MediaType{Type: "text", Subtype: "plain"}
	MediaTypeOctets    = MediaType{Type: "application", Subtype: "octet-stream"}
)

// ParseMediaType parses a Content-Type header value. An empty or malformed
// value yields the zero MediaType.
func ParseMediaType(v string) MediaType {
	if v == "" {
		return MediaType{}
	}
	name, params, err := mime.ParseMediaType(v)
	if err != nil {
		return MediaType{}
	}
	mt := MediaType{Params: params}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		mt.Type = name[:i]
		mt.Subtype = name[i+1:]
	} else {
		mt.Type = name
	}
	return mt
}

// IsZero reports whether no media type was present.
func (m MediaType) IsZero() bool {
	return m.Type == "" && m.Subtype == ""
}

// Name returns the type/subtype pair without parameters.
func (m MediaType) Name() string {
	if m.IsZero() {
		return ""
	}
	return m.Type + "/" + m.Subtype
}

func (m MediaType) String() string {
	if len(m.Params) == 0 {
		return m.Name()
	}
	return mime.FormatMediaType(m.Name(), m.Params)
}

// Matches reports whether m accepts other, honoring * wildcards on either
// side. Parameters are ignored.
func (m MediaType) Matches(other MediaType) bool {
	typeOK := m.Type == "*" || other.Type == "*" || strings.EqualFold(m.Type, other.Type)
	subOK := m.Subtype == "*" || other.Subtype == "*" || strings.EqualFold(m.Subtype, other.Subtype)
	return typeOK && subOK
}

// Charset returns the charset parameter, or the given default when absent.
func (m MediaType) Charset(def string) string {
	if cs, ok := m.Params["charset"]; ok && cs != "" {
		return cs
	}
	return def
}
