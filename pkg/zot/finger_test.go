package zot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// recordingTransport records every request and answers it with handler,
// failing https requests unless httpsOK is set.
type recordingTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	httpsOK  bool
	handler  http.Handler
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.requests = append(rt.requests, req)
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		req.Body = io.NopCloser(strings.NewReader(body))
	}
	rt.bodies = append(rt.bodies, body)
	rt.mu.Unlock()

	if req.URL.Scheme == "https" && !rt.httpsOK {
		return nil, errors.New("tls: first record does not look like a TLS handshake")
	}
	rec := httptest.NewRecorder()
	rt.handler.ServeHTTP(rec, req)
	return rec.Result(), nil
}

func (rt *recordingTransport) urls() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, len(rt.requests))
	for i, r := range rt.requests {
		out[i] = r.URL.String()
	}
	return out
}

func jsonHandler(status int, v any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	})
}

func zotWithTransport(t *testing.T, rt http.RoundTripper) *Zot {
	t.Helper()
	return newTestZot(t, "http://netloc:8080", 0, func(o *Options) {
		o.HTTPClient = &http.Client{Transport: rt}
	})
}

func TestFingerFallsBackToHTTP(t *testing.T) {
	rt := &recordingTransport{handler: jsonHandler(http.StatusOK, map[string]any{"success": true})}
	z := zotWithTransport(t, rt)

	info, err := z.Finger(context.Background(), FingerRequest{Address: "remote@remoteloc:6543"})
	require.NoError(t, err)
	assert.True(t, info.Success)

	assert.Equal(t, []string{
		"https://remoteloc:6543/.well-known/zot-info?address=remote",
		"http://remoteloc:6543/.well-known/zot-info?address=remote",
	}, rt.urls())
	assert.Equal(t, 1.0, testutil.ToFloat64(z.Metrics().FingerFallbacks))
}

func TestFingerFallsBackOnHTTPError(t *testing.T) {
	rt := &recordingTransport{httpsOK: true}
	rt.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Scheme == "https" {
			http.NotFound(w, r)
			return
		}
		jsonHandler(http.StatusOK, map[string]any{"success": true}).ServeHTTP(w, r)
	})
	z := zotWithTransport(t, rt)

	_, err := z.Finger(context.Background(), FingerRequest{Address: "remote@remoteloc:6543"})
	require.NoError(t, err)
	assert.Len(t, rt.urls(), 2)
}

func TestFingerBothSchemesFail(t *testing.T) {
	rt := &recordingTransport{httpsOK: true, handler: http.NotFoundHandler()}
	z := zotWithTransport(t, rt)

	_, err := z.Finger(context.Background(), FingerRequest{Address: "remote@remoteloc:6543"})
	var httpErr *zerrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "http://remoteloc:6543/.well-known/zot-info?address=remote", httpErr.URL)
	assert.Len(t, rt.urls(), 2)
}

func TestFingerNoFallbackFromHTTP(t *testing.T) {
	rt := &recordingTransport{handler: http.NotFoundHandler()}
	z := zotWithTransport(t, rt)

	_, err := z.Finger(context.Background(), FingerRequest{ChannelHash: "hash", SiteURL: "http://remoteloc:6543"})
	var httpErr *zerrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, []string{"http://remoteloc:6543/.well-known/zot-info?guid_hash=hash"}, rt.urls())
}

func TestFingerUsesKnownHub(t *testing.T) {
	ctx := context.Background()
	rt := &recordingTransport{handler: jsonHandler(http.StatusOK, map[string]any{"success": true})}
	z := zotWithTransport(t, rt)

	_, err := z.Store().UpsertXChannel(ctx, &types.XChannel{
		ChannelHash: "known_hash",
		Nickname:    "known",
		Address:     "known@knownloc:8443",
		Key:         siteKey(t, 1).PublicOnly(),
	})
	require.NoError(t, err)
	_, err = z.Store().UpsertHub(ctx, &types.Hub{
		ChannelHash: "known_hash",
		URL:         "http://hubloc:8080/app_url",
		SiteKey:     siteKey(t, 1).PublicOnly(),
		Primary:     true,
	})
	require.NoError(t, err)

	_, err = z.Finger(ctx, FingerRequest{Address: "known@knownloc:8443"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://hubloc:8080/.well-known/zot-info?address=known"}, rt.urls())
}

func TestFingerWithTarget(t *testing.T) {
	ctx := context.Background()
	rt := &recordingTransport{httpsOK: true, handler: jsonHandler(http.StatusOK, map[string]any{"success": true})}
	z := zotWithTransport(t, rt)
	me, err := z.AddChannel(ctx, "me", "Me")
	require.NoError(t, err)

	_, err = z.Finger(ctx, FingerRequest{Address: "admin@remote.example", Target: me})
	require.NoError(t, err)

	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://remote.example/.well-known/zot-info", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var payload fingerPayload
	require.NoError(t, json.Unmarshal([]byte(rt.bodies[0]), &payload))
	assert.Equal(t, "admin", payload.Address)
	assert.Equal(t, me.GUID, payload.Target)
	assert.Equal(t, me.Signature, payload.TargetSig)
	assert.Contains(t, payload.Key, "-----BEGIN PUBLIC KEY-----")
}

func TestFingerRemoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{"with message", map[string]any{"success": false, "message": "Item not found."}, "Item not found."},
		{"without message", map[string]any{"success": false}, "No results"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingTransport{httpsOK: true, handler: jsonHandler(http.StatusOK, tt.body)}
			z := zotWithTransport(t, rt)

			_, err := z.Finger(context.Background(), FingerRequest{Address: "admin@remote.example"})
			var remote *zerrors.RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tt.message, remote.Message)
			assert.Len(t, rt.urls(), 1, "a remote error is not retried")
		})
	}
}

func TestFingerInvalidResponse(t *testing.T) {
	rt := &recordingTransport{httpsOK: true}
	rt.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	z := zotWithTransport(t, rt)

	_, err := z.Finger(context.Background(), FingerRequest{Address: "admin@remote.example"})
	assert.ErrorIs(t, err, zerrors.ErrInvalidResponse)
	assert.Len(t, rt.urls(), 1)
}

func TestFingerInvalidInput(t *testing.T) {
	rt := &recordingTransport{handler: http.NotFoundHandler()}
	z := zotWithTransport(t, rt)

	for _, req := range []FingerRequest{
		{},
		{Address: "@remote.example"},
		{ChannelHash: "hash"},
		{ChannelHash: "hash", SiteURL: "not a url"},
	} {
		_, err := z.Finger(context.Background(), req)
		assert.ErrorIs(t, err, zerrors.ErrInvalidAddress, "%+v", req)
	}
	assert.Empty(t, rt.urls())
}

func TestFingerCancelled(t *testing.T) {
	rt := &recordingTransport{handler: http.NotFoundHandler()}
	z := zotWithTransport(t, rt)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := z.Finger(ctx, FingerRequest{Address: "admin@remote.example"})
	assert.Error(t, err)
	assert.LessOrEqual(t, len(rt.urls()), 1, "no fallback after cancellation")
}

func TestFingerWithTargetFollowsRedirect(t *testing.T) {
	tests := []struct {
		status     int
		wantMethod string
		wantBody   bool
	}{
		{http.StatusMovedPermanently, http.MethodPost, true},
		{http.StatusFound, http.MethodPost, true},
		{http.StatusTemporaryRedirect, http.MethodPost, true},
		{http.StatusPermanentRedirect, http.MethodPost, true},
		{http.StatusSeeOther, http.MethodGet, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ctx := context.Background()
			ok := jsonHandler(http.StatusOK, map[string]any{"success": true})
			rt := &recordingTransport{handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Host == "moved.example" {
					http.Redirect(w, r, "http://remote.example"+WellKnownInfoPath, tt.status)
					return
				}
				ok.ServeHTTP(w, r)
			})}
			z := zotWithTransport(t, rt)
			me, err := z.AddChannel(ctx, "me", "Me")
			require.NoError(t, err)

			_, err = z.Finger(ctx, FingerRequest{Address: "admin@moved.example", Target: me})
			require.NoError(t, err)

			require.Len(t, rt.requests, 3)
			final := rt.requests[2]
			assert.Equal(t, "http://remote.example/.well-known/zot-info", final.URL.String())
			assert.Equal(t, tt.wantMethod, final.Method)
			if !tt.wantBody {
				assert.Empty(t, rt.bodies[2])
				return
			}
			assert.Equal(t, "application/json", final.Header.Get("Content-Type"))
			var payload fingerPayload
			require.NoError(t, json.Unmarshal([]byte(rt.bodies[2]), &payload))
			assert.Equal(t, "admin", payload.Address)
			assert.Equal(t, me.GUID, payload.Target)
			assert.Equal(t, me.Signature, payload.TargetSig)
		})
	}
}
