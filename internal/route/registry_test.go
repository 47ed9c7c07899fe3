package route

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/httpx"
)

func okHandler(args Args) (any, error) { return "ok", nil }

func TestFindRoute(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Add(New("GET", "/items/{id}").Owner("items").Named("get").Handler(okHandler))
	reg.Add(New("POST", "/items").Owner("items").Named("create").Handler(okHandler))

	t.Run("path variables captured", func(t *testing.T) {
		matches := reg.FindRoute("GET", "/items/42")
		require.Len(t, matches, 1)
		assert.Equal(t, map[string]string{"id": "42"}, matches[0].PathParams())
		assert.Equal(t, "items", matches[0].Owner())
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, reg.FindRoute("GET", "/nothing"))
	})

	t.Run("wrong method", func(t *testing.T) {
		assert.Empty(t, reg.FindRoute("DELETE", "/items/42"))
	})
}

func TestFindAnyRouteForAllowHeader(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Add(New("GET", "/things").Handler(okHandler))
	reg.Add(New("POST", "/things").Handler(okHandler))
	reg.Add(New("PUT", "/things").Handler(okHandler))
	reg.Add(New("GET", "/other").Handler(okHandler))

	matches := reg.FindAnyRoute("/things")
	methods := make(map[string]bool)
	for _, m := range matches {
		methods[m.Method()] = true
	}
	assert.Equal(t, map[string]bool{"GET": true, "POST": true, "PUT": true}, methods)
}

func TestCandidateOrderAndPredicates(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Add(New("GET", "/feed").Named("v2").
		Where(func(req *httpx.Request) bool { return req.Header().Get("X-Version") == "2" }).
		Handler(okHandler))
	reg.Add(New("GET", "/feed").Named("v1").Handler(okHandler))

	matches := reg.FindRoute("GET", "/feed")
	require.Len(t, matches, 2)
	assert.Equal(t, "v2", matches[0].Name(), "registration order preserved")

	plain := httpx.NewRequest(httptest.NewRequest("GET", "/feed", nil))
	assert.False(t, matches[0].Test(plain))
	assert.True(t, matches[1].Test(plain))

	versioned := httptest.NewRequest("GET", "/feed", nil)
	versioned.Header.Set("X-Version", "2")
	assert.True(t, matches[0].Test(httpx.NewRequest(versioned)))
}

func TestAccepts(t *testing.T) {
	r := New("POST", "/in").Consumes(httpx.MediaTypeJSON).Handler(okHandler)
	m := newMatch(r, nil)

	assert.True(t, m.Accepts(httpx.MediaTypeJSON))
	assert.False(t, m.Accepts(httpx.MediaTypeForm))
	assert.True(t, m.Accepts(httpx.MediaType{}), "absent content type is never rejected")

	unconstrained := newMatch(New("POST", "/any").Handler(okHandler), nil)
	assert.True(t, unconstrained.Accepts(httpx.MediaTypeOctets))
}

func TestFulfillIsImmutable(t *testing.T) {
	r := New("GET", "/x").Args(binding.Query("a"), binding.Query("b")).Handler(okHandler)
	base := Match(newMatch(r, nil))

	partial := base.Fulfill(map[string]any{"a": 1})
	full := partial.Fulfill(map[string]any{"b": 2})

	assert.Empty(t, base.ArgumentValues(), "original untouched")
	assert.Len(t, partial.ArgumentValues(), 1)
	assert.Len(t, full.ArgumentValues(), 2)

	assert.False(t, base.IsExecutable())
	assert.False(t, partial.IsExecutable())
	assert.True(t, full.IsExecutable())
}

func TestExecuteResolvesDeferred(t *testing.T) {
	r := New("GET", "/x").Args(binding.Body("payload")).Handler(func(args Args) (any, error) {
		return args["payload"], nil
	})
	m := Match(newMatch(r, nil))

	t.Run("deferred value resolves at execute", func(t *testing.T) {
		resolved := m.Fulfill(map[string]any{
			"payload": binding.Deferred(func() (any, error) { return "late", nil }),
		})
		assert.True(t, resolved.IsExecutable(), "a deferred supplier counts as resolved")
		result, err := resolved.Execute()
		require.NoError(t, err)
		assert.Equal(t, "late", result)
	})

	t.Run("failed deferred becomes unsatisfied", func(t *testing.T) {
		failing := m.Fulfill(map[string]any{
			"payload": binding.Deferred(func() (any, error) { return nil, errors.New("no value") }),
		})
		_, err := failing.Execute()
		var unsat *UnsatisfiedRouteError
		require.ErrorAs(t, err, &unsat)
		assert.Equal(t, "payload", unsat.Argument)
	})

	t.Run("missing value becomes unsatisfied", func(t *testing.T) {
		_, err := m.Fulfill(nil).Execute()
		var unsat *UnsatisfiedRouteError
		require.ErrorAs(t, err, &unsat)
	})
}

func TestDecorateWrapsExecution(t *testing.T) {
	r := New("GET", "/x").Handler(okHandler)
	m := Match(newMatch(r, nil))

	var sawInner bool
	decorated := m.Decorate(func(inner Match) (any, error) {
		sawInner = true
		return inner.Execute()
	})

	result, err := decorated.Execute()
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.True(t, sawInner)

	// The original match still executes directly.
	result, err = m.Execute()
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestStatusRoutes(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Status(404, New("", "").Named("not_found").Handler(okHandler))

	m, ok := reg.FindStatusRoute(404)
	require.True(t, ok)
	assert.Equal(t, "not_found", m.Name())

	_, ok = reg.FindStatusRoute(500)
	assert.False(t, ok)
}

type timeoutError struct{ op string }

func (e *timeoutError) Error() string { return e.op + " timed out" }

func TestErrorRoutes(t *testing.T) {
	reg := NewRegistry(nil)
	reg.OnError("billing", &timeoutError{}, New("", "").Named("billing_timeout").Handler(okHandler))
	reg.OnError("", &timeoutError{}, New("", "").Named("global_timeout").Handler(okHandler))

	t.Run("owner scoped wins", func(t *testing.T) {
		m, ok := reg.FindErrorRoute("billing", &timeoutError{op: "charge"})
		require.True(t, ok)
		assert.Equal(t, "billing_timeout", m.Name())
	})

	t.Run("falls back to global", func(t *testing.T) {
		m, ok := reg.FindErrorRoute("inventory", &timeoutError{op: "list"})
		require.True(t, ok)
		assert.Equal(t, "global_timeout", m.Name())
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("handler failed: %w", &timeoutError{op: "charge"})
		_, ok := reg.FindErrorRoute("billing", wrapped)
		assert.True(t, ok)
	})

	t.Run("unrelated error misses", func(t *testing.T) {
		_, ok := reg.FindErrorRoute("billing", errors.New("other"))
		assert.False(t, ok)
	})
}

func TestAddWithoutHandlerPanics(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Panics(t, func() { reg.Add(New("GET", "/broken")) })
}
