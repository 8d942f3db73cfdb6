package wallet

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWalletMock(t *testing.T) (Repository, *sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	closer := func() { sqlxDB.Close() }
	return NewRepository(), sqlxDB, mock, closer
}

func TestGet_WhenNotExists(t *testing.T) {
	repo, db, mock, close := setupWalletMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT owner_id, balance, created_at, updated_at FROM wallets WHERE owner_id = $1")).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	w, err := repo.Get(context.Background(), db, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", w.OwnerID)
	assert.Equal(t, int64(0), w.Balance)
}

func TestDebit_GuardedUpdate(t *testing.T) {
	repo, db, mock, close := setupWalletMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets SET balance = balance - $2, updated_at = NOW() WHERE owner_id = $1 AND balance >= $2 RETURNING balance")).
		WithArgs("u1", int64(35)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(9965))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions (owner_id, amount, type, reference, balance_after) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs("u1", int64(-35), TxBookingPayment, "b1", int64(9965)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	balance, err := repo.Debit(context.Background(), db, "u1", 35, TxBookingPayment, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(9965), balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_InsufficientBalance(t *testing.T) {
	repo, db, mock, close := setupWalletMock(t)
	defer close()

	// guard fails: no row comes back, no audit row is written
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets SET balance = balance - $2")).
		WithArgs("u1", int64(35)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	_, err := repo.Debit(context.Background(), db, "u1", 35, TxBookingPayment, "b1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_RejectsNonPositive(t *testing.T) {
	repo, db, _, close := setupWalletMock(t)
	defer close()

	_, err := repo.Debit(context.Background(), db, "u1", 0, TxBookingPayment, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCredit_Upsert(t *testing.T) {
	repo, db, mock, close := setupWalletMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallets (owner_id, balance) VALUES ($1, $2) ON CONFLICT (owner_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance")).
		WithArgs("u1", int64(10000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10000))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions")).
		WithArgs("u1", int64(10000), TxTopUp, nil, int64(10000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	balance, err := repo.Credit(context.Background(), db, "u1", 10000, TxTopUp, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}

func TestGetTransactions(t *testing.T) {
	repo, db, mock, close := setupWalletMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM wallet_transactions WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")).
		WithArgs("u1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "amount", "type", "reference", "balance_after", "created_at"}).
			AddRow(2, "u1", -35, TxBookingPayment, "b1", 9965, now).
			AddRow(1, "u1", 10000, TxTopUp, nil, 10000, now.Add(-time.Hour)))

	txs, err := repo.GetTransactions(context.Background(), db, "u1", 0, -1)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "b1", *txs[0].Reference)
	assert.Nil(t, txs[1].Reference)
}
