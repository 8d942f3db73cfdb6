package wallet

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"adslot/internal/db"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directTx struct{ q db.Querier }

func (d directTx) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	return fn(d.q)
}

func TestHandler_GetBalanceRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewRepository(), nil, nil)

	router := gin.New()
	router.GET("/wallet", h.GetBalance)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wallet", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_GetBalance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo, sqlxDB, mock, close := setupWalletMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM wallets WHERE owner_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "created_at", "updated_at"}).
			AddRow("u1", 9965, nil, nil))

	h := NewHandler(repo, sqlxDB, directTx{sqlxDB})
	router := gin.New()
	router.GET("/wallet", func(c *gin.Context) {
		c.Set("user_id", "u1")
		h.GetBalance(c)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wallet", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":9965`)
}

func TestHandler_CreditRejectsNonPositive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewRepository(), nil, nil)

	router := gin.New()
	router.POST("/admin/wallets/:ownerID/credit", h.Credit)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/wallets/u1/credit", bytes.NewBufferString(`{"amount": -5}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Credit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo, sqlxDB, mock, close := setupWalletMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallets (owner_id, balance)")).
		WithArgs("u1", int64(10000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10000))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := NewHandler(repo, sqlxDB, directTx{sqlxDB})
	router := gin.New()
	router.POST("/admin/wallets/:ownerID/credit", h.Credit)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/wallets/u1/credit", bytes.NewBufferString(`{"amount": 10000, "reference": "invoice-7"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":10000`)
	require.NoError(t, mock.ExpectationsWereMet())
}
