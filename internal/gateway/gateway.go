// Package gateway fronts the booking and estimate services with rate
// limiting and serves the API documentation.
package gateway

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	ratelimitmw "github.com/example/shego/internal/http/middleware"
	"github.com/example/shego/pkg/observability"
)

//go:embed swagger.html
var swaggerHTML []byte

//go:embed openapi.yaml
var openAPIDoc []byte

type Options struct {
	BookingURL  string
	EstimateURL string
	Limiter     *ratelimitmw.RateLimiter
	Logger      *zap.Logger
}

// NewRouter builds the gateway handler. Upstream URLs must be absolute.
func NewRouter(opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	booking, err := newProxy(opts.BookingURL, logger)
	if err != nil {
		return nil, fmt.Errorf("booking upstream: %w", err)
	}
	estimate, err := newProxy(opts.EstimateURL, logger)
	if err != nil {
		return nil, fmt.Errorf("estimate upstream: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, observability.AccessLog(logger), chimiddleware.Recoverer)
	r.Mount("/observability", observability.MetricsRouter())
	r.Get("/docs", swaggerHandler)
	r.Get("/docs/", swaggerHandler)
	r.Get("/docs/index.html", swaggerHandler)
	r.Get("/docs/openapi.yaml", openAPIHandler)

	r.Group(func(r chi.Router) {
		r.Use(opts.Limiter.Middleware)
		r.Handle("/api/booking/*", booking)
		r.Handle("/v1/estimate", estimate)
	})
	return r, nil
}

func newProxy(raw string, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", raw)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream unavailable", zap.String("upstream", target.Host), zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
	return proxy, nil
}

func swaggerHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "swagger.html", time.Time{}, bytes.NewReader(swaggerHTML))
}

func openAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(openAPIDoc))
}
