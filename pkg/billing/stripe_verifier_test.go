package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	stripewebhook "github.com/stripe/stripe-go/v83/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/billing"
	"github.com/dmitrymomot/cashier/pkg/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, object map[string]any, at time.Time) ([]byte, string) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"api_version": "2020-08-27",
		"type":        eventType,
		"created":     at.Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: at,
	})
	return signed.Payload, signed.Header
}

func TestStripeVerifier(t *testing.T) {
	t.Parallel()

	v := billing.NewStripeVerifier(testWebhookSecret, 5*time.Minute)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()

		payload, sig := signedEvent(t, billing.EventSubscriptionDeleted, map[string]any{"id": "sub_1", "customer": "cus_1"}, time.Now())
		h := http.Header{}
		h.Set(billing.StripeSignatureHeader, sig)

		ev, err := v.Verify(payload, h)
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionDeleted, ev.Type)
		assert.JSONEq(t, `{"id":"sub_1","customer":"cus_1"}`, string(ev.Object))
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		payload, sig := signedEvent(t, billing.EventSubscriptionDeleted, map[string]any{"id": "sub_1"}, time.Now())
		h := http.Header{}
		h.Set(billing.StripeSignatureHeader, sig)

		tampered := []byte(strings.Replace(string(payload), "sub_1", "sub_2", 1))
		_, err := v.Verify(tampered, h)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		t.Parallel()

		payload, sig := signedEvent(t, billing.EventSubscriptionDeleted, map[string]any{"id": "sub_1"}, time.Now().Add(-time.Hour))
		h := http.Header{}
		h.Set(billing.StripeSignatureHeader, sig)

		_, err := v.Verify(payload, h)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()

		payload, _ := signedEvent(t, billing.EventSubscriptionDeleted, map[string]any{"id": "sub_1"}, time.Now())
		_, err := v.Verify(payload, http.Header{})
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("signed event without data", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
			Payload:   []byte(`{"id":"evt_1","object":"event","type":"customer.updated","created":` + strconv.FormatInt(now.Unix(), 10) + `}`),
			Secret:    testWebhookSecret,
			Timestamp: now,
		})
		h := http.Header{}
		h.Set(billing.StripeSignatureHeader, signed.Header)

		_, err := v.Verify(signed.Payload, h)
		require.ErrorIs(t, err, webhook.ErrInvalidSignature)
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()

		_, err := billing.NewStripeVerifier("", 0).Verify([]byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
		assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	})
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(billing.WithClock(time.Now))
	accountID := seedCustomer(t, f)
	sub := seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.CreatedAt = time.Now().Add(-time.Hour) })

	metrics := webhook.NewMetrics(prometheus.NewRegistry())
	h := webhook.NewHandler(
		billing.NewStripeVerifier(testWebhookSecret, 5*time.Minute),
		billing.NewReconciler(f.svc),
		webhook.WithMetrics(metrics),
	)

	post := func(payload []byte, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
		req.Header.Set(billing.StripeSignatureHeader, sig)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	payload, sig := signedEvent(t, billing.EventSubscriptionDeleted, map[string]any{"id": "sub_1", "customer": "cus_1"}, time.Now())

	rec := post(payload, "t=1,v1=bad")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	stored, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.EndsAt, "rejected events must not be dispatched")

	rec = post(payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.AckBody, rec.Body.String())

	stored, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EndsAt)
	assert.False(t, f.svc.Account(accountID).Subscribed(ctx, "default", ""))

	unknown, unknownSig := signedEvent(t, "charge.succeeded", map[string]any{"id": "ch_1"}, time.Now())
	rec = post(unknown, unknownSig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.AckBody, rec.Body.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Events.WithLabelValues(billing.EventSubscriptionDeleted, webhook.OutcomeHandled)))
}
