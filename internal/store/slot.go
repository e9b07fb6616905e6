package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
)

type SlotStore struct {
	db *sql.DB
}

func NewSlotStore(db *sql.DB) *SlotStore {
	return &SlotStore{db: db}
}

func scanSlot(scanner interface{ Scan(...any) error }) (*model.Slot, error) {
	var sl model.Slot
	var booked int
	var bookedBy sql.NullString
	err := scanner.Scan(&sl.ID, &sl.CoachID, &sl.StartTime, &sl.EndTime, &booked, &bookedBy, &sl.CreatedAt)
	if err != nil {
		return nil, err
	}
	sl.StartTime = sl.StartTime.UTC()
	sl.EndTime = sl.EndTime.UTC()
	sl.Booked = booked != 0
	if bookedBy.Valid {
		sl.BookedBy = &bookedBy.String
	}
	return &sl, nil
}

const slotCols = `id, coach_id, start_time, end_time, booked, booked_by, created_at`

func (s *SlotStore) Create(ctx context.Context, id, coachID string, start, end time.Time) (*model.Slot, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (id, coach_id, start_time, end_time) VALUES (?, ?, ?, ?)`,
		id, coachID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SlotStore) GetByID(ctx context.Context, id string) (*model.Slot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotCols+` FROM slots WHERE id = ?`, id)
	sl, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return sl, nil
}

func (s *SlotStore) ListByCoach(ctx context.Context, coachID string, from time.Time) ([]model.Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+slotCols+` FROM slots WHERE coach_id = ? AND start_time >= ? ORDER BY start_time`,
		coachID, from.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, *sl)
	}
	return slots, rows.Err()
}

// HasOverlap reports whether the coach already owns a slot intersecting [start, end).
func (s *SlotStore) HasOverlap(ctx context.Context, coachID string, start, end time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM slots WHERE coach_id = ? AND start_time < ? AND end_time > ?)`,
		coachID, end.UTC(), start.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return exists == 1, nil
}
