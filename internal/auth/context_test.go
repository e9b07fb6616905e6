package auth

import (
	"context"
	"testing"

	"github.com/dukerupert/fitstack/internal/model"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{UserID: "alice", Role: model.RoleCoach}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", got.UserID, "alice")
	}
	if got.Role != model.RoleCoach {
		t.Errorf("Role = %q, want %q", got.Role, model.RoleCoach)
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUserIDMissing(t *testing.T) {
	if UserID(context.Background()) != "" {
		t.Error("expected empty user id for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Role: model.RoleAdmin})
	if !IsAdmin(ctx) {
		t.Error("expected IsAdmin = true for admin role")
	}
}

func TestIsAdminFalse(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Role: model.RoleUser})
	if IsAdmin(ctx) {
		t.Error("expected IsAdmin = false for user role")
	}
}
