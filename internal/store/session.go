package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
)

// SessionStore persists booked sessions. It is the only writer of a slot's
// booked state once the slot exists.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var reason, cancelledBy sql.NullString
	var cancelledAt sql.NullTime
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.CoachID, &s.SlotID, &s.RoomID, &s.Status,
		&s.StartTime, &s.EndTime, &reason, &cancelledAt, &cancelledBy,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	if reason.Valid {
		s.CancelReason = &reason.String
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		s.CancelledAt = &t
	}
	if cancelledBy.Valid {
		r := model.Role(cancelledBy.String)
		s.CancelledBy = &r
	}
	return &s, nil
}

const sessionCols = `id, user_id, coach_id, slot_id, room_id, status, start_time, end_time, cancel_reason, cancelled_at, cancelled_by, created_at, updated_at`

// Book claims an unbooked slot for userID and creates its waiting session in
// one transaction. A slot that is already booked yields model.ErrConflict.
func (s *SessionStore) Book(ctx context.Context, id, slotID, userID, roomID string) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE slots SET booked = 1, booked_by = ? WHERE id = ? AND booked = 0`,
		userID, slotID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	var coachID string
	var start, end time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT coach_id, start_time, end_time FROM slots WHERE id = ?`, slotID,
	).Scan(&coachID, &start, &end)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("slot %s: %w", slotID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("slot %s already booked: %w", slotID, model.ErrConflict)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, coach_id, slot_id, room_id, status, start_time, end_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, coachID, slotID, roomID, model.SessionWaiting, start.UTC(), end.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListForActor returns the sessions where the actor is the user or the coach,
// newest first.
func (s *SessionStore) ListForActor(ctx context.Context, actorID string, role model.Role) ([]model.Session, error) {
	column := "user_id"
	if role == model.RoleCoach {
		column = "coach_id"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE `+column+` = ? ORDER BY start_time DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SetStatus moves a session from one status to another, reporting whether the
// session was in `from`.
func (s *SessionStore) SetStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("set session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Cancel marks a waiting session cancelled and releases its slot in one
// transaction. The status check is part of the update, so of two concurrent
// cancellations exactly one succeeds; the other gets model.ErrConflict.
func (s *SessionStore) Cancel(ctx context.Context, id, reason string, by model.Role, at time.Time) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, cancel_reason = ?, cancelled_at = ?, cancelled_by = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.SessionCancelled, reason, at.UTC(), by, at.UTC(), id, model.SessionWaiting,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("session %s is not waiting: %w", id, model.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE slots SET booked = 0, booked_by = NULL
		 WHERE id = (SELECT slot_id FROM sessions WHERE id = ?)`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}
	return s.GetByID(ctx, id)
}
