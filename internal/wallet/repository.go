package wallet

import (
	"context"
	"database/sql"
	"errors"

	"adslot/internal/db"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

// Get returns the owner's wallet, or an empty wallet when none exists yet.
func (r *repository) Get(ctx context.Context, q db.Querier, ownerID string) (*Wallet, error) {
	w := &Wallet{}
	err := q.GetContext(ctx, w, `
		SELECT owner_id, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Debit subtracts units only if the balance covers them, as one guarded write.
// Zero affected rows means the guard failed.
func (r *repository) Debit(ctx context.Context, q db.Querier, ownerID string, units int64, txType, reference string) (int64, error) {
	if units <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := q.GetContext(ctx, &balance, `
		UPDATE wallets
		SET balance = balance - $2, updated_at = NOW()
		WHERE owner_id = $1 AND balance >= $2
		RETURNING balance
	`, ownerID, units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}

	if err := r.record(ctx, q, ownerID, -units, txType, reference, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *repository) Credit(ctx context.Context, q db.Querier, ownerID string, units int64, txType, reference string) (int64, error) {
	if units <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := q.GetContext(ctx, &balance, `
		INSERT INTO wallets (owner_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, ownerID, units)
	if err != nil {
		return 0, err
	}

	if err := r.record(ctx, q, ownerID, units, txType, reference, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *repository) record(ctx context.Context, q db.Querier, ownerID string, amount int64, txType, reference string, balanceAfter int64) error {
	var ref *string
	if reference != "" {
		ref = &reference
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (owner_id, amount, type, reference, balance_after)
		VALUES ($1, $2, $3, $4, $5)
	`, ownerID, amount, txType, ref, balanceAfter)
	return err
}

func (r *repository) GetTransactions(ctx context.Context, q db.Querier, ownerID string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txs := []Transaction{}
	err := q.SelectContext(ctx, &txs, `
		SELECT id, owner_id, amount, type, reference, balance_after, created_at
		FROM wallet_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return txs, nil
}
