package wallet

import (
	"context"

	"adslot/internal/db"
)

type Repository interface {
	Get(ctx context.Context, q db.Querier, ownerID string) (*Wallet, error)
	Debit(ctx context.Context, q db.Querier, ownerID string, units int64, txType, reference string) (int64, error)
	Credit(ctx context.Context, q db.Querier, ownerID string, units int64, txType, reference string) (int64, error)
	GetTransactions(ctx context.Context, q db.Querier, ownerID string, limit, offset int) ([]Transaction, error)
}
