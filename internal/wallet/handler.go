package wallet

import (
	"net/http"
	"strconv"

	"adslot/internal/auth"
	"adslot/internal/db"
	"adslot/internal/logger"
	"adslot/internal/metrics"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo Repository
	db   db.Querier
	tx   db.TxRunner
}

func NewHandler(repo Repository, q db.Querier, tx db.TxRunner) *Handler {
	return &Handler{repo: repo, db: q, tx: tx}
}

type CreditRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference" binding:"max=128"`
}

func (h *Handler) GetBalance(c *gin.Context) {
	ownerID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	w, err := h.repo.Get(c.Request.Context(), h.db, ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
		return
	}

	c.JSON(http.StatusOK, w)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	ownerID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.repo.GetTransactions(c.Request.Context(), h.db, ownerID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, txs)
}

// Credit tops up another party's wallet. Admin only.
func (h *Handler) Credit(c *gin.Context) {
	ownerID := c.Param("ownerID")

	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	var balance int64
	err := h.tx.WithTx(c.Request.Context(), func(q db.Querier) error {
		var err error
		balance, err = h.repo.Credit(c.Request.Context(), q, ownerID, req.Amount, TxTopUp, req.Reference)
		return err
	})
	if err != nil {
		logger.Error("wallet credit failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to top up wallet"})
		return
	}

	metrics.RecordWalletTopUp()
	c.JSON(http.StatusOK, gin.H{
		"message": "wallet recharged",
		"wallet":  Wallet{OwnerID: ownerID, Balance: balance},
	})
}
