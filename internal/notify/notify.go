// Package notify records user-facing notices and fans them out to open
// websocket connections and, when configured, email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
	"github.com/dukerupert/fitstack/internal/websocket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	mailTimeout      = 10 * time.Second
)

// Notifier is the dependency the domain services take.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type Pusher interface {
	SendTo(userID string, msg websocket.Message)
}

type Mailer interface {
	Configured() bool
	Send(ctx context.Context, toEmail, subject, text, tag string) error
}

type Service struct {
	notifications *store.NotificationStore
	users         *store.UserStore
	pusher        Pusher
	mailer        Mailer
	logger        *slog.Logger

	sending sync.WaitGroup
}

// NewService wires the inbox store with optional live and email channels;
// pusher and mailer may be nil.
func NewService(notifications *store.NotificationStore, users *store.UserStore, pusher Pusher, mailer Mailer, logger *slog.Logger) *Service {
	return &Service{
		notifications: notifications,
		users:         users,
		pusher:        pusher,
		mailer:        mailer,
		logger:        logger.With("component", "notify"),
	}
}

// Notify stores the notification in the recipient's inbox and then delivers
// it on the live and email channels. Email goes out in the background; only
// the inbox write can fail the call.
func (s *Service) Notify(ctx context.Context, n model.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("%w: recipient required", model.ErrInvalidInput)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	created, err := s.notifications.Create(ctx, &n)
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.pusher != nil {
		s.pusher.SendTo(created.RecipientID, websocket.NewMessage("notification", "created", created.ID, created))
	}
	s.mail(ctx, created)

	s.logger.Debug("notification sent", "id", created.ID, "recipient_id", created.RecipientID, "type", created.Type)
	return nil
}

func (s *Service) mail(ctx context.Context, n *model.Notification) {
	if s.mailer == nil || !s.mailer.Configured() || s.users == nil {
		return
	}

	user, err := s.users.GetByID(ctx, n.RecipientID)
	if err != nil || user == nil || user.Email == "" {
		if err != nil {
			s.logger.Warn("lookup recipient for email", "error", err, "recipient_id", n.RecipientID)
		}
		return
	}

	s.sending.Add(1)
	go func(ctx context.Context, to string) {
		defer s.sending.Done()
		ctx, cancel := context.WithTimeout(ctx, mailTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, to, n.Title, n.Message, n.Type); err != nil {
			s.logger.Warn("email notification failed", "error", err, "id", n.ID, "recipient_id", n.RecipientID)
		}
	}(context.WithoutCancel(ctx), user.Email)
}

// Wait blocks until in-flight emails have been handed off or timed out.
func (s *Service) Wait() {
	s.sending.Wait()
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	list, err := s.notifications.ListByRecipient(ctx, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, nil
}

// MarkRead marks one of the recipient's notifications read. Marking an
// already-read notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, recipientID string) error {
	ok, err := s.notifications.MarkRead(ctx, id, recipientID)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotFound
	}
	return nil
}
