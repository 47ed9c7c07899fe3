package httpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMediaType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		charset string
	}{
		{name: "json", input: "application/json", want: "application/json", charset: "utf-8"},
		{name: "json with charset", input: "application/json; charset=iso-8859-1", want: "application/json", charset: "iso-8859-1"},
		{name: "form", input: "application/x-www-form-urlencoded", want: "application/x-www-form-urlencoded", charset: "utf-8"},
		{name: "empty", input: "", want: "", charset: "utf-8"},
		{name: "malformed", input: ";;;", want: "", charset: "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := ParseMediaType(tt.input)
			assert.Equal(t, tt.want, mt.Name())
			assert.Equal(t, tt.charset, mt.Charset("utf-8"))
		})
	}
}

func TestMediaTypeMatches(t *testing.T) {
	tests := []struct {
		name  string
		a, b  MediaType
		match bool
	}{
		{name: "exact", a: MediaTypeJSON, b: MediaTypeJSON, match: true},
		{name: "case insensitive", a: MediaTypeJSON, b: ParseMediaType("Application/JSON"), match: true},
		{name: "wildcard accepts anything", a: MediaTypeAll, b: MediaTypeForm, match: true},
		{name: "subtype wildcard", a: MediaType{Type: "text", Subtype: "*"}, b: MediaTypeText, match: true},
		{name: "mismatch", a: MediaTypeJSON, b: MediaTypeForm, match: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.a.Matches(tt.b))
		})
	}
}

func TestMediaTypeIsZero(t *testing.T) {
	assert.True(t, ParseMediaType("").IsZero())
	assert.False(t, MediaTypeJSON.IsZero())
}
