package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/model"
)

type bookingService interface {
	CreateSlot(ctx context.Context, coachID string, start, end time.Time) (*model.Slot, error)
	OpenSlots(ctx context.Context, coachID string) ([]model.Slot, error)
	BookSlot(ctx context.Context, userID, slotID string) (*model.Session, error)
	Sessions(ctx context.Context, actorID string, role model.Role) ([]model.Session, error)
	CancelBookedSession(ctx context.Context, actorID string, role model.Role, sessionID, reason string) (*model.Session, error)
}

type BookingHandler struct {
	booking bookingService
	logger  *slog.Logger
}

func NewBookingHandler(booking bookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{booking: booking, logger: logger.With("component", "booking")}
}

type slotRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CreateSlot publishes a slot for the calling coach.
func (h *BookingHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeMessage(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}

	slot, err := h.booking.CreateSlot(r.Context(), auth.UserID(r.Context()), req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (h *BookingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.booking.OpenSlots(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *BookingHandler) BookSlot(w http.ResponseWriter, r *http.Request) {
	sess, err := h.booking.BookSlot(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *BookingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	sessions, err := h.booking.Sessions(r.Context(), ac.UserID, ac.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CancelSession cancels a waiting session on behalf of the caller.
func (h *BookingHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	sess, err := h.booking.CancelBookedSession(r.Context(), ac.UserID, ac.Role, r.PathValue("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
