package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Balances is the data access layer for the per-user economy balance.
type Balances struct {
	db *sql.DB
}

func NewBalances(db *sql.DB) *Balances { return &Balances{db: db} }

// Get returns the user's balance, creating a zero row on first access.
func (b *Balances) Get(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := b.db.QueryRowContext(ctx, `SELECT balance FROM user_balance WHERE user_id = $1`, userID).Scan(&bal)
	if err == sql.ErrNoRows {
		if _, err := b.db.ExecContext(ctx, `
			INSERT INTO user_balance (user_id, balance, created_at) VALUES ($1, 0, CURRENT_TIMESTAMP)`, userID); err != nil {
			return 0, fmt.Errorf("create balance row for %s: %w", userID, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance for %s: %w", userID, err)
	}
	return bal, nil
}

// Adjust adds delta (which may be negative) to the user's balance and returns
// the new value.
func (b *Balances) Adjust(ctx context.Context, userID string, delta int64) (int64, error) {
	if _, err := b.Get(ctx, userID); err != nil {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, `
		UPDATE user_balance SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2`, delta, userID); err != nil {
		return 0, fmt.Errorf("adjust balance for %s: %w", userID, err)
	}
	var bal int64
	if err := b.db.QueryRowContext(ctx, `SELECT balance FROM user_balance WHERE user_id = $1`, userID).Scan(&bal); err != nil {
		return 0, fmt.Errorf("reload balance for %s: %w", userID, err)
	}
	return bal, nil
}

// Set overwrites the user's balance.
func (b *Balances) Set(ctx context.Context, userID string, amount int64) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO user_balance (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = CURRENT_TIMESTAMP`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("set balance for %s: %w", userID, err)
	}
	return nil
}
