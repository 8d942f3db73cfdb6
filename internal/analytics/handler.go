package analytics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"adslot/internal/auth"
	"adslot/internal/booking"
	"adslot/internal/ledger"
	"adslot/internal/slot"

	"github.com/gin-gonic/gin"
)

type BookingLookup interface {
	Get(ctx context.Context, id string) (*slot.Booking, error)
}

type StatsReader interface {
	Stats(ctx context.Context, bookingID string, source ledger.Source) (ledger.Stats, error)
	Rebuild(ctx context.Context, bookingID string) (ledger.Stats, error)
	Events(ctx context.Context, bookingID string, limit int) ([]ledger.Event, error)
}

type Handler struct {
	tracker  *Tracker
	stats    StatsReader
	bookings BookingLookup
}

func NewHandler(tracker *Tracker, stats StatsReader, bookings BookingLookup) *Handler {
	return &Handler{tracker: tracker, stats: stats, bookings: bookings}
}

type TrackRequest struct {
	Event ledger.Kind `json:"event" binding:"required,oneof=VIEW CLICK"`
}

// Track enqueues a view or click. The caller gets 200 whether or not the
// queue accepted it.
func (h *Handler) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event must be VIEW or CLICK"})
		return
	}

	var actorID *string
	if id, ok := auth.GetUserID(c); ok {
		actorID = &id
	}

	h.tracker.Record(c.Request.Context(), req.Event, c.Param("id"), actorID)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// Stats serves impressions, clicks and CTR to the booking owner or an admin.
func (h *Handler) Stats(c *gin.Context) {
	b, ok := h.authorize(c)
	if !ok {
		return
	}

	stats, err := h.stats.Stats(c.Request.Context(), b.ID, ledger.Source(c.DefaultQuery("source", string(ledger.SourceRollup))))
	if errors.Is(err, ledger.ErrUnknownSource) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Events(c *gin.Context) {
	b, ok := h.authorize(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.stats.Events(c.Request.Context(), b.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// RebuildRollup recounts a booking's summary from the ledger. Admin only.
func (h *Handler) RebuildRollup(c *gin.Context) {
	if _, err := h.bookings.Get(c.Request.Context(), c.Param("id")); err != nil {
		writeLookupError(c, err)
		return
	}

	stats, err := h.stats.Rebuild(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rebuild rollup"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) authorize(c *gin.Context) (*slot.Booking, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return nil, false
	}

	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeLookupError(c, err)
		return nil, false
	}
	if !b.OwnedBy(userID) && !auth.IsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": booking.ErrOwnershipMismatch.Error()})
		return nil, false
	}
	return b, true
}

func writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, booking.ErrBookingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load booking"})
}
