package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

const (
	// AckBody is written for every verified event, mapped or not.
	AckBody = "Webhook Handled"

	// DefaultMaxBodySize bounds the accepted request body.
	DefaultMaxBodySize int64 = 64 << 10
)

// HandlerOption configures the webhook endpoint.
type HandlerOption func(*Handler)

// WithLogger sets the endpoint logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithMetrics records deliveries on m.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// Handler is the inbound webhook endpoint. It verifies the request, dispatches
// the event and answers with a fixed acknowledgment. Verification failures are
// answered with 403 and never reach the dispatcher; dispatch failures are
// answered with 500 so the processor delivers the event again.
type Handler struct {
	verifier   Verifier
	dispatcher Dispatcher
	log        *slog.Logger
	metrics    *Metrics
	maxBody    int64
	now        func() time.Time
}

// NewHandler creates the endpoint. Panics if verifier or dispatcher is nil.
func NewHandler(verifier Verifier, dispatcher Dispatcher, opts ...HandlerOption) *Handler {
	if verifier == nil {
		panic("webhook: verifier is required")
	}
	if dispatcher == nil {
		panic("webhook: dispatcher is required")
	}
	h := &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		log:        logger.Discard(),
		maxBody:    DefaultMaxBodySize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := h.now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.WarnContext(ctx, "webhook payload too large", logger.Error(ErrPayloadTooLarge))
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.verifier.Verify(payload, r.Header)
	if err != nil {
		h.log.WarnContext(ctx, "webhook verification failed", logger.Error(err))
		h.metrics.observe("", OutcomeRejected, 0)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	attrs := []any{logger.EventType(event.Type), logger.EventID(event.ID)}
	if err := h.dispatcher.Dispatch(ctx, event); err != nil {
		h.log.ErrorContext(ctx, "webhook dispatch failed", append(attrs, logger.Error(err))...)
		h.metrics.observe(event.Type, OutcomeFailed, h.now().Sub(start).Seconds())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.log.DebugContext(ctx, "webhook handled", attrs...)
	h.metrics.observe(event.Type, OutcomeHandled, h.now().Sub(start).Seconds())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, AckBody)
}
