package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	"github.com/sprezz-net/sprezz/pkg/store"
	"github.com/sprezz-net/sprezz/pkg/types"
	"github.com/sprezz-net/sprezz/pkg/zot"
)

var (
	keyOnce sync.Once
	testKey *crypto.KeyPair
)

func siteKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	keyOnce.Do(func() {
		k, err := crypto.Generate(2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type fixture struct {
	z        *zot.Zot
	server   *Server
	channel  *types.LocalChannel
	registry *prometheus.Registry
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	registry := prometheus.NewRegistry()
	z, err := zot.New(zot.Options{
		SiteURL: "https://example.com",
		SiteKey: siteKey(t),
		Store:   store.NewMemory(),
		KeyBits: 2048,
		Logger:  logger,
		Metrics: zot.NewMetrics(registry),
	})
	require.NoError(t, err)
	t.Cleanup(func() { z.Close() })

	ch, err := z.AddChannel(context.Background(), "admin", "Admin")
	require.NoError(t, err)

	return &fixture{
		z:        z,
		server:   New(Options{Zot: z, Logger: logger, Gatherer: registry}),
		channel:  ch,
		registry: registry,
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestInfoEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	form := url.Values{"address": {"admin"}}

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"get query", httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath+"?"+form.Encode(), nil)},
		{"post form", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, zot.WellKnownInfoPath, strings.NewReader(form.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return r
		}()},
		{"post json", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, zot.WellKnownInfoPath, strings.NewReader(`{"address":"admin"}`))
			r.Header.Set("Content-Type", "application/json; charset=utf-8")
			return r
		}()},
		{"by hash", httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath+"?guid_hash="+url.QueryEscape(f.channel.ChannelHash), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.req)
			assert.Equal(t, http.StatusOK, w.Code)

			var resp zot.InfoResponse
			decode(t, w, &resp)
			require.True(t, resp.Success)
			assert.Equal(t, f.channel.GUID, resp.GUID)
			assert.Equal(t, "admin@example.com", resp.Address)
		})
	}
}

func TestInfoEndpointFailure(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath+"?address=nobody", nil))
	assert.Equal(t, http.StatusOK, w.Code, "failures are reported in the body")
	assert.JSONEq(t, `{"success": false, "message": "Item not found."}`, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath, nil))
	assert.JSONEq(t, `{"success": false, "message": "Invalid request."}`, w.Body.String())
}

func TestCallbackEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	post := func(body, contentType string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/post", strings.NewReader(body))
		r.Header.Set("Content-Type", contentType)
		return f.do(t, r)
	}

	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{"form", url.Values{"data": {`{"type":"ping"}`}}.Encode(), "application/x-www-form-urlencoded"},
		{"json string", `{"data":"{\"type\":\"ping\"}"}`, "application/json"},
		{"json object", `{"data":{"type":"ping"}}`, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(tt.body, tt.contentType)
			assert.Equal(t, http.StatusOK, w.Code)

			var resp zot.PingResponse
			decode(t, w, &resp)
			assert.True(t, resp.Success)
			require.NotNil(t, resp.Site)
			assert.Equal(t, "https://example.com", resp.Site.URL)
		})
	}

	for _, body := range []string{"", `{"data":`, `{"data":"{garbage"}`} {
		w := post(body, "application/json")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success": false}`, w.Body.String(), "body %q", body)
	}
}

func TestCustomCallbackPath(t *testing.T) {
	assert.Equal(t, "/zot/post", CallbackPath("https://example.com/zot/post"))
	assert.Equal(t, "/post", CallbackPath("https://example.com"))
	assert.Equal(t, "/post", CallbackPath("://bad"))
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath+"?address=admin", nil))

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `zot_info_requests_total{result="success"} 1`)
	assert.Contains(t, w.Body.String(), "zot_channels_created_total 1")

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixture(t, zap.New(core))

	f.do(t, httptest.NewRequest(http.MethodGet, zot.WellKnownInfoPath+"?address=admin", nil))
	f.do(t, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "GET", first["method"])
	assert.Equal(t, zot.WellKnownInfoPath, first["path"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.Equal(t, "address=admin", first["query"])
	assert.NotEmpty(t, first["request_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])
}

func TestRecoverer(t *testing.T) {
	f := newFixture(t, nil)
	f.server.router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServeOverNetwork(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/post", "application/x-www-form-urlencoded",
		bytes.NewBufferString(url.Values{"data": {`{"type":"ping"}`}}.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ping zot.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ping))
	assert.True(t, ping.Success)
}
