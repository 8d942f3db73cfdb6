package booking

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"adslot/internal/api"
	"adslot/internal/auth"
	"adslot/internal/logger"
	"adslot/internal/payment"
	"adslot/internal/slot"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ActiveLister serves the currently live bookings of a slot, usually through
// the availability cache.
type ActiveLister interface {
	ListActive(ctx context.Context, slotType string, slotKey *string) ([]slot.Booking, error)
}

type Handler struct {
	svc    Service
	active ActiveLister
}

func NewHandler(svc Service, active ActiveLister) *Handler {
	return &Handler{svc: svc, active: active}
}

type BookRequest struct {
	SlotType      string     `json:"slotType" binding:"required,max=64,slotname"`
	SlotKey       *string    `json:"slotKey" binding:"omitempty,max=128,slotname"`
	SlotIndex     int        `json:"slotIndex" binding:"min=0"`
	DurationDays  int        `json:"durationDays" binding:"required,min=1,max=365"`
	PaymentMethod string     `json:"paymentMethod" binding:"required,oneof=BALANCE EXTERNAL"`
	StartDate     *time.Time `json:"startDate"`
	CreativeURL   string     `json:"creativeUrl" binding:"omitempty,url"`
	RedirectURL   string     `json:"redirectUrl" binding:"omitempty,url"`
}

type QuoteRequest struct {
	SlotType     string     `json:"slotType" binding:"required,max=64,slotname"`
	SlotKey      *string    `json:"slotKey" binding:"omitempty,max=128,slotname"`
	DurationDays int        `json:"durationDays" binding:"required,min=1,max=365"`
	StartDate    *time.Time `json:"startDate"`
}

type HouseBookingRequest struct {
	SlotType     string     `json:"slotType" binding:"required,max=64,slotname"`
	SlotKey      *string    `json:"slotKey" binding:"omitempty,max=128,slotname"`
	SlotIndex    int        `json:"slotIndex" binding:"min=0"`
	Priority     int        `json:"priority"`
	DurationDays int        `json:"durationDays" binding:"required,min=1,max=365"`
	StartDate    *time.Time `json:"startDate"`
	CreativeURL  string     `json:"creativeUrl" binding:"omitempty,url"`
	RedirectURL  string     `json:"redirectUrl" binding:"omitempty,url"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"max=512"`
}

type WebhookRequest struct {
	ID string `json:"id" binding:"required"`
}

type BookResponse struct {
	BookingID          string                `json:"bookingId"`
	SettlementStatus   slot.SettlementStatus `json:"settlementStatus"`
	IsActive           bool                  `json:"isActive"`
	CostMoney          decimal.Decimal       `json:"costMoney"`
	CostBalanceUnits   int64                 `json:"costBalanceUnits"`
	PaymentRedirectURL string                `json:"paymentRedirectUrl,omitempty"`
}

func newBookResponse(res *Result) BookResponse {
	return BookResponse{
		BookingID:          res.Booking.ID,
		SettlementStatus:   res.Booking.Status,
		IsActive:           res.Booking.IsActive,
		CostMoney:          res.Booking.CostMoney,
		CostBalanceUnits:   res.Booking.CostBalanceUnits,
		PaymentRedirectURL: res.PaymentRedirectURL,
	}
}

// ListActive serves what is live right now for a slot type. Public.
func (h *Handler) ListActive(c *gin.Context) {
	slotType, slotKey := normaliseSlot(c.Query("slotType"), optional(c.Query("slotKey")))
	if err := validateShape(slotType, slotKey, 0, 1); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slotType is required"})
		return
	}

	bookings, err := h.active.ListActive(c.Request.Context(), slotType, slotKey)
	if err != nil {
		logger.Error("list active slots failed", "slot_type", slotType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load active slots"})
		return
	}

	c.JSON(http.StatusOK, slot.Summarize(bookings))
}

func (h *Handler) Book(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	role, _ := auth.GetRole(c)

	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	res, err := h.svc.Book(c.Request.Context(), Request{
		OwnerID:      userID,
		Role:         role,
		SlotType:     req.SlotType,
		SlotKey:      req.SlotKey,
		SlotIndex:    req.SlotIndex,
		DurationDays: req.DurationDays,
		Method:       slot.PaymentMethod(req.PaymentMethod),
		StartDate:    req.StartDate,
		CreativeURL:  req.CreativeURL,
		RedirectURL:  req.RedirectURL,
	})
	if err != nil {
		if errors.Is(err, ErrExternalPayment) && res != nil && res.Booking != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   err.Error(),
				"booking": newBookResponse(res),
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newBookResponse(res))
}

func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	role, _ := auth.GetRole(c)

	q, err := h.svc.Quote(c.Request.Context(), Request{
		Role:         role,
		SlotType:     req.SlotType,
		SlotKey:      req.SlotKey,
		DurationDays: req.DurationDays,
		StartDate:    req.StartDate,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, q)
}

func (h *Handler) ListMine(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookings, err := h.svc.ListMine(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch bookings"})
		return
	}

	c.JSON(http.StatusOK, bookings)
}

func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.svc.Cancel(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "booking cancelled"})
}

func (h *Handler) Approve(c *gin.Context) {
	b, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			api.RespondBindError(c, err)
			return
		}
	}

	b, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateHouse(c *gin.Context) {
	var req HouseBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	b, err := h.svc.CreateHouse(c.Request.Context(), HouseRequest{
		SlotType:     req.SlotType,
		SlotKey:      req.SlotKey,
		SlotIndex:    req.SlotIndex,
		Priority:     req.Priority,
		DurationDays: req.DurationDays,
		StartDate:    req.StartDate,
		CreativeURL:  req.CreativeURL,
		RedirectURL:  req.RedirectURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// Webhook receives a gateway notification. Only the event id is trusted; the
// outcome is fetched back from the gateway before anything changes.
func (h *Handler) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event id is required"})
		return
	}

	b, err := h.svc.ConfirmEvent(c.Request.Context(), req.ID)
	switch {
	case errors.Is(err, payment.ErrIgnoredEvent):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case errors.Is(err, payment.ErrUnverified):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Error("payment webhook failed", "event_id", req.ID, "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "processed",
		"bookingId":        b.ID,
		"settlementStatus": b.Status,
		"isActive":         b.IsActive,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrOwnershipMismatch):
		status = http.StatusForbidden
	case errors.Is(err, ErrExternalPayment), errors.Is(err, payment.ErrGateway):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.Error("booking request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
