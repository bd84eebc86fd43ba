// Package httpapi exposes a zot engine over HTTP.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/zot"
)

// maxBodySize caps request bodies on both protocol endpoints.
const maxBodySize = 4 << 20

// Options configures a Server.
type Options struct {
	Zot    *zot.Zot
	Logger *zap.Logger
	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server routes zot-info, the hub callback, metrics and health checks.
type Server struct {
	zot    *zot.Zot
	logger *zap.Logger
	router chi.Router
}

// New builds the router. Protocol endpoints always answer 200 with a JSON
// body; failures are reported inside it.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{zot: opts.Zot, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withRequestLog)
	r.Use(middleware.Recoverer)

	r.Get(zot.WellKnownInfoPath, s.handleInfo)
	r.Post(zot.WellKnownInfoPath, s.handleInfo)
	r.Post(CallbackPath(opts.Zot.Site().Callback), s.handlePost)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// CallbackPath returns the path component of a site callback url.
func CallbackPath(callback string) string {
	u, err := url.Parse(callback)
	if err != nil || u.Path == "" {
		return zot.DefaultCallbackPath
	}
	return u.Path
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req zot.InfoRequest
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
			s.logger.Debug("Undecodable zot-info request", zap.Error(err))
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		if err := r.ParseForm(); err != nil {
			s.logger.Debug("Unparsable zot-info request", zap.Error(err))
		}
		req = zot.InfoRequest{
			Address:   r.Form.Get("address"),
			GUID:      r.Form.Get("guid"),
			GUIDSig:   r.Form.Get("guid_sig"),
			GUIDHash:  r.Form.Get("guid_hash"),
			Target:    r.Form.Get("target"),
			TargetSig: r.Form.Get("target_sig"),
			Key:       r.Form.Get("key"),
		}
	}

	resp, err := s.zot.Info(r.Context(), req)
	if err != nil {
		s.logger.Error("zot-info lookup failed", zap.Error(err))
	}
	writeJSON(w, resp)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	data := s.postData(w, r)
	writeJSON(w, s.zot.HandlePost(r.Context(), data))
}

// postData extracts the packet from a form field named data or a JSON
// body {"data": ...}, where data is either a JSON string or an object.
func (s *Server) postData(w http.ResponseWriter, r *http.Request) []byte {
	if !isJSON(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		return []byte(r.FormValue("data"))
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		s.logger.Debug("Undecodable callback body", zap.Error(err))
		return nil
	}
	raw := bytes.TrimSpace(body.Data)
	if len(raw) > 0 && raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil
		}
		return []byte(str)
	}
	return raw
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.zot.Store().ListChannels(r.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
