package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fitstack/internal/billing"
)

// maxWebhookBytes caps a webhook payload.
const maxWebhookBytes = 65536

type eventParser interface {
	ParseEvent(payload []byte, sigHeader string) (billing.Event, error)
}

type eventHandler interface {
	Handle(ctx context.Context, ev billing.Event) error
}

type WebhookHandler struct {
	parser     eventParser
	reconciler eventHandler
	logger     *slog.Logger
}

func NewWebhookHandler(parser eventParser, reconciler eventHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:     parser,
		reconciler: reconciler,
		logger:     logger.With("component", "webhook"),
	}
}

// HandleStripeWebhook verifies and applies one provider event. A non-2xx
// answer makes the provider redeliver, so only failures that a retry could
// fix are reported as 500.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "read body")
		return
	}

	ev, err := h.parser.ParseEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		writeMessage(w, http.StatusBadRequest, "invalid event")
		return
	}

	if err := h.reconciler.Handle(r.Context(), ev); err != nil {
		meta := billing.MetaOf(ev)
		if errors.Is(err, context.Canceled) {
			h.logger.Warn("webhook interrupted", "event_id", meta.ID, "type", meta.Type)
		} else {
			h.logger.Error("webhook failed", "error", err, "event_id", meta.ID, "type", meta.Type)
		}
		writeMessage(w, http.StatusInternalServerError, "event not applied")
		return
	}

	w.WriteHeader(http.StatusOK)
}
