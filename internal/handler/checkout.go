package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/billing"
)

type checkoutService interface {
	Start(ctx context.Context, req billing.StartRequest) (*billing.CheckoutSession, error)
	PortalURL(ctx context.Context, userID string) (string, error)
}

type CheckoutHandler struct {
	checkout checkoutService
	logger   *slog.Logger
}

func NewCheckoutHandler(checkout checkoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger.With("component", "checkout")}
}

type checkoutRequest struct {
	PlanID     string `json:"plan_id"`
	UseBalance bool   `json:"use_balance"`
}

// CreateCheckoutSession starts a hosted checkout for the caller and returns
// its URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.PlanID == "" {
		writeMessage(w, http.StatusBadRequest, "plan_id is required")
		return
	}

	sess, err := h.checkout.Start(r.Context(), billing.StartRequest{
		UserID:     auth.UserID(r.Context()),
		PlanID:     req.PlanID,
		UseBalance: req.UseBalance,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// BillingPortal returns a self-service portal URL for the caller.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	url, err := h.checkout.PortalURL(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
