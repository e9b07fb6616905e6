package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/model"
)

type inbox interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

type NotificationHandler struct {
	inbox  inbox
	logger *slog.Logger
}

func NewNotificationHandler(in inbox, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: in, logger: logger.With("component", "notifications")}
}

// List returns the caller's notifications. Query params: unread=true,
// limit=N.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.inbox.List(r.Context(), auth.UserID(r.Context()), q.Get("unread") == "true", limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkRead(r.Context(), r.PathValue("id"), auth.UserID(r.Context())); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
