package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/billing"
	"github.com/dukerupert/fitstack/internal/model"
)

type planService interface {
	Create(ctx context.Context, in billing.PlanInput) (*model.Plan, error)
	Publish(ctx context.Context, id string) (*model.Plan, error)
	List(ctx context.Context, activeOnly bool) ([]model.Plan, error)
	ChangePrice(ctx context.Context, id string, priceCents int64) (*model.Plan, error)
	Deactivate(ctx context.Context, id string) error
}

type PlanHandler struct {
	plans  planService
	logger *slog.Logger
}

func NewPlanHandler(plans planService, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, logger: logger.With("component", "plans")}
}

// List returns active plans. Admins may pass ?all=true to include
// deactivated ones.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := !(auth.IsAdmin(r.Context()) && r.URL.Query().Get("all") == "true")
	plans, err := h.plans.List(r.Context(), activeOnly)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in billing.PlanInput
	if err := decodeJSON(r, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	plan, err := h.plans.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *PlanHandler) Publish(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.Publish(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *PlanHandler) ChangePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	plan, err := h.plans.ChangePrice(r.Context(), r.PathValue("id"), req.PriceCents)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *PlanHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
