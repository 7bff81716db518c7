package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/liverelay/internal/logx"
)

func middlewareChain() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		chiMiddleware.RequestID,
		chiMiddleware.Recoverer,
		requestLogger,
	}
}

// requestLogger wraps with chi's response writer so WebSocket upgrades can
// still hijack the connection.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		lvl := zerolog.GlobalLevel()
		if lvl > zerolog.InfoLevel {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusSwitchingProtocols
		}
		ev := logx.Log.Info()
		if lvl <= zerolog.DebugLevel {
			ev = logx.Log.Debug().Interface("headers", r.Header)
		}
		ev.Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http")
	})
}

// originPatterns turns CORS origins such as https://app.example.com into
// the host patterns the WebSocket origin check expects.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" || !strings.Contains(o, "://") {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
