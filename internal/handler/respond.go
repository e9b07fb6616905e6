package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fitstack/internal/model"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without leaking the cause.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrAlreadyExists):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInsufficientFunds):
		writeMessage(w, http.StatusConflict, "insufficient funds")
	case errors.Is(err, model.ErrUnauthorized):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidAmount):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a single JSON object into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
