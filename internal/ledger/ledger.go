// Package ledger keeps one wallet per owner and an append-only transaction log
// beside it. Every posting changes the balance and appends its transaction in
// the same SQL transaction, so a wallet's balance always equals the sum of its
// transaction amounts.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/fitstack/internal/model"
)

// Entry describes a posting. When RelatedID is set, the posting is unique per
// (wallet, type, related id): applying it again returns the original
// transaction without touching the balance.
type Entry struct {
	Type        model.TransactionType
	Description string
	RelatedID   string
	// AllowOverdraft lets a debit take the balance below zero. Used when the
	// money has already moved elsewhere and the ledger must record it anyway.
	AllowOverdraft bool
}

type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger, now: time.Now}
}

func scanWallet(scanner interface{ Scan(...any) error }) (*model.Wallet, error) {
	var w model.Wallet
	err := scanner.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(scanner interface{ Scan(...any) error }) (*model.Transaction, error) {
	var t model.Transaction
	var relatedID sql.NullString
	err := scanner.Scan(&t.ID, &t.WalletID, &t.Seq, &t.Type, &t.Amount, &t.Description, &relatedID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if relatedID.Valid {
		t.RelatedID = &relatedID.String
	}
	return &t, nil
}

const walletCols = `id, owner_id, owner_type, balance, created_at, updated_at`

const transactionCols = `id, wallet_id, seq, type, amount, description, related_id, created_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) ensureWallet(ctx context.Context, q querier, owner model.Owner) (*model.Wallet, error) {
	now := l.now().UTC()
	_, err := q.ExecContext(ctx,
		`INSERT INTO wallets (id, owner_id, owner_type, balance, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(owner_id, owner_type) DO NOTHING`,
		uuid.NewString(), owner.ID, owner.Type, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}
	row := q.QueryRowContext(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE owner_id = ? AND owner_type = ?`,
		owner.ID, owner.Type,
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// GetOrCreate returns the owner's wallet, creating an empty one on first access.
func (l *Ledger) GetOrCreate(ctx context.Context, owner model.Owner) (*model.Wallet, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("wallet owner: %w", model.ErrInvalidInput)
	}
	return l.ensureWallet(ctx, l.db, owner)
}

// Credit adds a positive amount to the owner's wallet.
func (l *Ledger) Credit(ctx context.Context, owner model.Owner, amount int64, e Entry) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit %d: %w", amount, model.ErrInvalidAmount)
	}
	return l.post(ctx, owner, amount, e)
}

// Debit removes a positive amount from the owner's wallet. Without
// e.AllowOverdraft it fails with model.ErrInsufficientFunds rather than take
// the balance negative.
func (l *Ledger) Debit(ctx context.Context, owner model.Owner, amount int64, e Entry) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit %d: %w", amount, model.ErrInvalidAmount)
	}
	return l.post(ctx, owner, -amount, e)
}

func (l *Ledger) post(ctx context.Context, owner model.Owner, signed int64, e Entry) (*model.Transaction, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("wallet owner: %w", model.ErrInvalidInput)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := l.ensureWallet(ctx, tx, owner)
	if err != nil {
		return nil, err
	}

	if e.RelatedID != "" {
		row := tx.QueryRowContext(ctx,
			`SELECT `+transactionCols+` FROM wallet_transactions WHERE wallet_id = ? AND type = ? AND related_id = ?`,
			w.ID, e.Type, e.RelatedID,
		)
		existing, err := scanTransaction(row)
		if err == nil {
			l.logger.Info("ledger entry already applied",
				"wallet_id", w.ID, "type", e.Type, "related_id", e.RelatedID, "transaction_id", existing.ID)
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("find related transaction: %w", err)
		}
	}

	if signed < 0 && !e.AllowOverdraft && w.Balance+signed < 0 {
		return nil, fmt.Errorf("wallet %s balance %d, debit %d: %w", w.ID, w.Balance, -signed, model.ErrInsufficientFunds)
	}

	now := l.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		signed, now, w.ID,
	); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM wallet_transactions WHERE wallet_id = ?`, w.ID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}

	t := &model.Transaction{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		Seq:         seq,
		Type:        e.Type,
		Amount:      signed,
		Description: e.Description,
		CreatedAt:   now,
	}
	var relatedID any
	if e.RelatedID != "" {
		relatedID = e.RelatedID
		t.RelatedID = &e.RelatedID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, seq, type, amount, description, related_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WalletID, t.Seq, t.Type, t.Amount, t.Description, relatedID, t.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit posting: %w", err)
	}

	l.logger.Debug("ledger posting",
		"wallet_id", w.ID, "owner_id", owner.ID, "owner_type", owner.Type,
		"type", e.Type, "amount", signed, "related_id", e.RelatedID)
	return t, nil
}

// Transactions returns the owner's postings in the order they were applied.
func (l *Ledger) Transactions(ctx context.Context, owner model.Owner) ([]model.Transaction, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT t.id, t.wallet_id, t.seq, t.type, t.amount, t.description, t.related_id, t.created_at
		 FROM wallet_transactions t
		 JOIN wallets w ON w.id = t.wallet_id
		 WHERE w.owner_id = ? AND w.owner_type = ?
		 ORDER BY t.seq`,
		owner.ID, owner.Type,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var list []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// Audit returns the stored balance and the sum of the owner's transaction
// amounts. The two are equal unless the tables were edited outside the ledger.
func (l *Ledger) Audit(ctx context.Context, owner model.Owner) (balance, sum int64, err error) {
	err = l.db.QueryRowContext(ctx,
		`SELECT w.balance, COALESCE((SELECT SUM(amount) FROM wallet_transactions WHERE wallet_id = w.id), 0)
		 FROM wallets w WHERE w.owner_id = ? AND w.owner_type = ?`,
		owner.ID, owner.Type,
	).Scan(&balance, &sum)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("audit wallet: %w", err)
	}
	return balance, sum, nil
}
