package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/config"
	"github.com/outrigger-io/keel/internal/content"
	"github.com/outrigger-io/keel/internal/dispatch"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
)

func newTestServer(t *testing.T, register func(*route.Registry)) *httptest.Server {
	t.Helper()
	cfg := config.Default()

	reg := route.NewRegistry(nil)
	register(reg)

	limits := content.Limits{MaxBodySize: cfg.Body.MaxSize}
	procs := content.NewFactoryRegistry()
	procs.Register(content.NewJSONFactory(limits, true))
	procs.Register(content.NewFormFactory(limits, true))

	d := dispatch.New(dispatch.Options{
		Router:     reg,
		Processors: procs,
		Limits:     limits,
	})

	ts := httptest.NewServer(NewServer(cfg, d, nil))
	t.Cleanup(ts.Close)
	return ts
}

func TestServerRoundTrip(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {
		reg.Add(route.New("GET", "/greet/{name}").
			Args(binding.Path("name")).
			Handler(func(args route.Args) (any, error) {
				return map[string]string{"greeting": "hello " + args["name"].(string)}, nil
			}))
	})

	resp, err := http.Get(ts.URL + "/greet/keel")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"greeting":"hello keel"}`, string(body))
}

func TestServerStreamsRequestBody(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {
		reg.Add(route.New("POST", "/items").
			Consumes(httpx.MediaTypeJSON).
			Args(binding.BodyField("name", "name")).
			Handler(func(args route.Args) (any, error) {
				return httpx.Status(201).WithBody(map[string]any{"created": args["name"]}), nil
			}))
	})

	resp, err := http.Post(ts.URL+"/items", "application/json", strings.NewReader(`{"name":"anchor"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 201, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"created":"anchor"}`, string(body))
}

func TestServerNotFound(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {})

	resp, err := http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 404, resp.StatusCode)
	// The client consumes the Connection header into resp.Close.
	assert.True(t, resp.Close, "error statuses close the connection")
}

func TestServerMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {
		reg.Add(route.New("GET", "/only-get").Handler(func(route.Args) (any, error) {
			return "ok", nil
		}))
	})

	req, _ := http.NewRequest("DELETE", ts.URL+"/only-get", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 405, resp.StatusCode)
	assert.Equal(t, "GET", resp.Header.Get("Allow"))
}

func TestServerHandlerErrorIs500(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {
		reg.Add(route.New("GET", "/boom").Handler(func(route.Args) (any, error) {
			return nil, assert.AnError
		}))
	})

	resp, err := http.Get(ts.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 500, resp.StatusCode)
}

func TestServerLargeChunkedBody(t *testing.T) {
	ts := newTestServer(t, func(reg *route.Registry) {
		reg.Add(route.New("POST", "/size").
			Args(binding.Body("data")).
			Handler(func(args route.Args) (any, error) {
				return map[string]int{"bytes": len(args["data"].([]byte))}, nil
			}))
	})

	// Bigger than one chunk, so the body crosses multiple pulls.
	payload := strings.Repeat("z", 64<<10)
	resp, err := http.Post(ts.URL+"/size", "application/octet-stream", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"bytes":65536}`, string(body))
}

func TestConnContextWriteOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	native := httptest.NewRequest("GET", "/", nil)
	req := httpx.NewRequest(native)
	cc := newConnContext(rec, native, req, nil)

	require.NoError(t, cc.Write(httpx.OK().WithBody("first")))
	assert.Error(t, cc.Write(httpx.OK().WithBody("second")))
	assert.False(t, cc.IsWritable())
	assert.False(t, cc.wait(), "a written exchange is not aborted")
}

func TestConnContextAbort(t *testing.T) {
	rec := httptest.NewRecorder()
	native := httptest.NewRequest("GET", "/", nil)
	req := httpx.NewRequest(native)
	cc := newConnContext(rec, native, req, nil)

	cc.Close()
	assert.True(t, cc.wait(), "close before write aborts the exchange")
	assert.Error(t, cc.Write(httpx.OK()), "no write after abort")
}
