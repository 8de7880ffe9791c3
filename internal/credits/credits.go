// Package credits exposes the billing ledger the verification path debits
// against. The ledger is an external collaborator to the queues; they only
// see the CheckBalance/Debit contract.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrInsufficientCredits is returned when a debit would overdraw the balance
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger is the debit API the verification workers use
type Ledger interface {
	// CheckBalance reports whether the owner can afford the given amount
	CheckBalance(ctx context.Context, ownerID string, amount int) (bool, error)

	// Debit removes credits from the owner's balance, recording the
	// reference and memo. Fails with ErrInsufficientCredits on overdraw.
	Debit(ctx context.Context, ownerID string, amount int, refID, memo string) error
}

// PgLedger is the Postgres-backed ledger implementation
type PgLedger struct {
	db *sql.DB
}

// NewPgLedger creates a ledger over the shared connection
func NewPgLedger(db *sql.DB) *PgLedger {
	return &PgLedger{db: db}
}

// CheckBalance reports whether the owner holds at least amount credits
func (l *PgLedger) CheckBalance(ctx context.Context, ownerID string, amount int) (bool, error) {
	var balance int
	err := l.db.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE owner_id = $1
	`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read credit balance: %w", err)
	}
	return balance >= amount, nil
}

// Debit decrements the balance with a guarded update so two concurrent
// debits can never overdraw, then records the ledger entry.
func (l *PgLedger) Debit(ctx context.Context, ownerID string, amount int, refID, memo string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = balance - $1, updated_at = NOW()
		WHERE owner_id = $2 AND balance >= $1
	`, amount, ownerID)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientCredits
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, owner_id, amount, ref_id, memo)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), ownerID, -amount,
		sql.NullString{String: refID, Valid: refID != ""}, memo)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}

	log.Debug().
		Str("owner_id", ownerID).
		Int("amount", amount).
		Str("ref_id", refID).
		Msg("Debited credits")

	return nil
}
