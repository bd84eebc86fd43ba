package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.status),
			zap.Int64("bytes", sr.bytes),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		}
		if id := middleware.GetReqID(r.Context()); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if r.URL.RawQuery != "" {
			fields = append(fields, zap.String("query", r.URL.RawQuery))
		}
		if ce := s.logger.Check(levelForStatus(sr.status), "HTTP request"); ce != nil {
			ce.Write(fields...)
		}
	})
}

func levelForStatus(code int) zapcore.Level {
	if code >= 500 {
		return zapcore.ErrorLevel
	}
	if code >= 400 {
		return zapcore.WarnLevel
	}
	return zapcore.DebugLevel
}
