package main

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/cashier/pkg/clientip"
	"github.com/dmitrymomot/cashier/pkg/environment"
	"github.com/dmitrymomot/cashier/pkg/httpserver"
	"github.com/dmitrymomot/cashier/pkg/requestid"
)

type routerDeps struct {
	env           environment.Environment
	log           *slog.Logger
	webhookPath   string
	webhook       http.Handler
	resolver      *clientip.Resolver
	allowedIPs    []netip.Prefix
	gatherer      prometheus.Gatherer
	checks        map[string]httpserver.CheckFunc
	healthTimeout time.Duration
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestid.Middleware,
		d.resolver.Middleware,
		environment.Middleware(d.env),
		middleware.Recoverer,
	)

	r.With(clientip.AllowOnly(d.allowedIPs)).Method(http.MethodPost, d.webhookPath, d.webhook)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", httpserver.LivenessHandler())
		r.Get("/ready", httpserver.HealthHandler(d.log, d.healthTimeout, d.checks))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	return r
}
