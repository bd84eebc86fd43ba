package zot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	"github.com/sprezz-net/sprezz/pkg/queue"
	"github.com/sprezz-net/sprezz/pkg/store"
)

const testKeyBits = 2048

var (
	siteKeysOnce sync.Once
	siteKeys     []*crypto.KeyPair
)

// siteKey returns one of a few shared site keys so tests do not pay for
// RSA generation on every engine.
func siteKey(t *testing.T, i int) *crypto.KeyPair {
	t.Helper()
	siteKeysOnce.Do(func() {
		for n := 0; n < 3; n++ {
			k, err := crypto.Generate(testKeyBits)
			if err != nil {
				panic(err)
			}
			siteKeys = append(siteKeys, k)
		}
	})
	return siteKeys[i%len(siteKeys)]
}

type testSite struct {
	z      *Zot
	store  *store.Memory
	server *httptest.Server
}

func newTestZot(t *testing.T, siteURL string, key int, mutate ...func(*Options)) *Zot {
	t.Helper()
	q := queue.NewMemory(queue.DefaultTTL, nil)
	t.Cleanup(func() { q.Close() })

	opts := Options{
		SiteURL:    siteURL,
		SiteKey:    siteKey(t, key),
		Store:      store.NewMemory(),
		Queue:      q,
		Version:    "test",
		AdminEmail: "admin@example.com",
		KeyBits:    testKeyBits,
		Logger:     zaptest.NewLogger(t),
		Metrics:    NewMetrics(prometheus.NewRegistry()),
	}
	for _, m := range mutate {
		m(&opts)
	}
	z, err := New(opts)
	require.NoError(t, err)
	return z
}

// startSite runs an engine behind a real HTTP server so it can be reached
// by other engines.
func startSite(t *testing.T, key int) *testSite {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	siteURL := "http://" + srv.Listener.Addr().String()
	mem := store.NewMemory()
	z := newTestZot(t, siteURL, key, func(o *Options) { o.Store = mem })
	srv.Config.Handler = testHandler(z)
	srv.Start()
	t.Cleanup(srv.Close)
	return &testSite{z: z, store: mem, server: srv}
}

// testHandler serves zot-info and the callback endpoint.
func testHandler(z *Zot) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WellKnownInfoPath, func(w http.ResponseWriter, r *http.Request) {
		var req InfoRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			_ = json.NewDecoder(r.Body).Decode(&req)
		} else {
			_ = r.ParseForm()
			req = InfoRequest{
				Address:   r.Form.Get("address"),
				GUID:      r.Form.Get("guid"),
				GUIDSig:   r.Form.Get("guid_sig"),
				GUIDHash:  r.Form.Get("guid_hash"),
				Target:    r.Form.Get("target"),
				TargetSig: r.Form.Get("target_sig"),
				Key:       r.Form.Get("key"),
			}
		}
		resp, _ := z.Info(r.Context(), req)
		writeJSON(w, resp)
	})
	mux.HandleFunc(DefaultCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, z.HandlePost(r.Context(), []byte(r.FormValue("data"))))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
