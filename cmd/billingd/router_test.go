package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/billing"
	"github.com/dmitrymomot/cashier/pkg/clientip"
	"github.com/dmitrymomot/cashier/pkg/environment"
	"github.com/dmitrymomot/cashier/pkg/httpserver"
	"github.com/dmitrymomot/cashier/pkg/logger"
	"github.com/dmitrymomot/cashier/pkg/requestid"
	"github.com/dmitrymomot/cashier/pkg/webhook"
)

func testRouter(t *testing.T, checks map[string]httpserver.CheckFunc, allowed ...netip.Prefix) (http.Handler, *environment.Environment) {
	t.Helper()

	var seen environment.Environment
	reg := prometheus.NewRegistry()
	calls := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_webhook_calls_total"})
	reg.MustRegister(calls)

	h := newRouter(routerDeps{
		env:         environment.Production,
		log:         logger.Discard(),
		webhookPath: "/webhooks/stripe",
		webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = environment.FromContext(r.Context())
			calls.Inc()
			if r.Header.Get("X-Panic") != "" {
				panic("boom")
			}
			_, _ = io.WriteString(w, "Webhook Handled")
		}),
		resolver:      clientip.NewResolver("X-Forwarded-For"),
		allowedIPs:    allowed,
		gatherer:      reg,
		checks:        checks,
		healthTimeout: time.Second,
	})
	return h, &seen
}

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("webhook route", func(t *testing.T) {
		t.Parallel()
		h, seen := testRouter(t, nil)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Webhook Handled", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(requestid.Header))
		assert.Equal(t, environment.Production, *seen)
	})

	t.Run("webhook rejects GET", func(t *testing.T) {
		t.Parallel()
		h, _ := testRouter(t, nil)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("panics become 500", func(t *testing.T) {
		t.Parallel()
		h, _ := testRouter(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.Header.Set("X-Panic", "1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("webhook source allowlist", func(t *testing.T) {
		t.Parallel()
		h, _ := testRouter(t, nil, netip.MustParsePrefix("54.187.174.0/24"))

		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.Header.Set("X-Forwarded-For", "54.187.174.169")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "only the webhook route is restricted")
	})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		h, _ := testRouter(t, map[string]httpserver.CheckFunc{
			"redis": func(context.Context) error { return errors.New("down") },
		})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redis":"failed"`)
	})

	t.Run("metrics", func(t *testing.T) {
		t.Parallel()
		h, _ := testRouter(t, nil)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "test_webhook_calls_total 1")
	})
}

func TestAppConfigValidate(t *testing.T) {
	t.Parallel()

	ok := appConfig{Store: storeMongo, Locker: lockerMemory, WebhookVerifier: verifierStripe}
	assert.NoError(t, ok.Validate())

	err := appConfig{Store: "sqlite", Locker: "etcd", WebhookVerifier: "none", WebhookAllowedIPs: []string{"nope"}}.Validate()
	assert.ErrorIs(t, err, errUnknownStore)
	assert.ErrorIs(t, err, errUnknownLocker)
	assert.ErrorIs(t, err, errUnknownVerifier)
	assert.ErrorIs(t, err, clientip.ErrInvalidPrefix)

	err = appConfig{Store: storePostgres, Locker: lockerRedis, WebhookVerifier: verifierHMAC}.Validate()
	assert.ErrorIs(t, err, errMissingHMACKey)
}

func TestNewVerifier(t *testing.T) {
	t.Parallel()

	stripeCfg := billing.StripeConfig{WebhookSecret: "whsec_test", WebhookTolerance: time.Minute}

	v, err := newVerifier(appConfig{WebhookVerifier: verifierStripe}, stripeCfg)
	require.NoError(t, err)
	assert.IsType(t, &billing.StripeVerifier{}, v)

	v, err = newVerifier(appConfig{WebhookVerifier: verifierHMAC, WebhookHMACSecret: "relay-secret"}, stripeCfg)
	require.NoError(t, err)
	assert.IsType(t, &webhook.HMACVerifier{}, v)

	_, err = newVerifier(appConfig{WebhookVerifier: verifierHMAC}, stripeCfg)
	assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)

	_, err = newVerifier(appConfig{WebhookVerifier: "none"}, stripeCfg)
	assert.ErrorIs(t, err, errUnknownVerifier)
}
