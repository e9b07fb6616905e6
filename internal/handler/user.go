package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/fitstack/internal/auth"
	"github.com/dukerupert/fitstack/internal/model"
)

type userStore interface {
	Create(ctx context.Context, id, email, name string, role model.Role) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type UserHandler struct {
	users  userStore
	logger *slog.Logger
}

func NewUserHandler(users userStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger.With("component", "users")}
}

type userRequest struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

var validRoles = map[model.Role]bool{
	model.RoleUser:  true,
	model.RoleCoach: true,
	model.RoleAdmin: true,
}

// Create provisions an account. The id is the subject tokens are issued
// for; one is generated when omitted.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeMessage(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}
	if !validRoles[req.Role] {
		writeMessage(w, http.StatusBadRequest, "role must be user, coach, or admin")
		return
	}

	u, err := h.users.Create(r.Context(), req.ID, req.Email, strings.TrimSpace(req.Name), req.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("user provisioned", "user_id", u.ID, "role", u.Role)
	writeJSON(w, http.StatusCreated, u)
}

// Me returns the caller's account.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if u == nil {
		writeMessage(w, http.StatusNotFound, "account not provisioned")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
