package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type httpMetrics struct {
	requests    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func newHTTPMetrics(reg prometheus.Registerer) (*httpMetrics, error) {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_http_requests_total",
				Help: "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_rate_limited_total",
				Help: "HTTP API requests rejected by the rate limiter",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.rateLimited} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register api metrics: %w", err)
		}
	}
	return m, nil
}

// requestLogger logs every request once it completes and counts it by route
func requestLogger(logger *zap.Logger, metrics *httpMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.requests.WithLabelValues(route, fmt.Sprint(status)).Inc()

			logger.Info("request completed",
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()))
		})
	}
}
