// Package webhook implements the inbound endpoint for payment processor
// notifications.
//
// The endpoint is split into two small interfaces. A Verifier authenticates
// the raw body and produces an Event; a Dispatcher routes the event to the
// code that reconciles local state. Handler glues them into an http.Handler:
//
//	verifier := billing.NewStripeVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
//	endpoint := webhook.NewHandler(verifier, reconciler,
//	    webhook.WithLogger(log),
//	    webhook.WithMetrics(webhook.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//	r.Method(http.MethodPost, "/webhooks/stripe", endpoint)
//
// Response contract:
//
//   - verification failure: 403, the dispatcher is not called
//   - dispatch error: 500, the processor will deliver the event again
//   - otherwise: 200 with the body "Webhook Handled", including event types
//     nobody handles
//
// HMACVerifier covers relays that re-sign events with a shared secret using
// X-Webhook-Signature and X-Webhook-Timestamp. The signature is
// HMAC-SHA256(secret, timestamp + "." + payload), hex encoded, and the
// timestamp must be within the configured tolerance.
package webhook
