package server

import (
	"context"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kjk/common/httputil"
)

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// logRequests tags each request with an ID and logs it once it completes.
func (s *Server) logRequests(accessLog AccessLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		cw := &httputil.CapturingResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(cw, r)
		dur := time.Since(start)

		s.logger.InfoContext(r.Context(), "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", cw.StatusCode,
			"size", cw.Size,
			"dur", dur.Round(time.Microsecond),
			"ip", httputil.GetBestRemoteAddress(r),
			"request_id", id)
		if accessLog != nil {
			if err := accessLog.LogReq(r, cw.StatusCode, cw.Size, dur); err != nil {
				s.logger.WarnContext(r.Context(), "Failed to write access log", "err", err)
			}
		}
	})
}

// cors answers preflight requests and sets Access-Control-Allow-Origin for
// allowed origins. "*" allows any origin.
func cors(origins []string, next http.Handler) http.Handler {
	allowAny := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAny:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,POST,OPTIONS")
			if hdrs := r.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
				w.Header().Set("Access-Control-Allow-Headers", hdrs)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests from clients over their budget with 429.
func rateLimit(l *ipLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.GetBestRemoteAddress(r)
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !l.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
