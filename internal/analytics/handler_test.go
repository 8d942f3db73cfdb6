package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"adslot/internal/booking"
	"adslot/internal/ledger"
	"adslot/internal/queue"
	"adslot/internal/slot"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStats struct{ mock.Mock }

func (m *MockStats) Stats(ctx context.Context, bookingID string, source ledger.Source) (ledger.Stats, error) {
	args := m.Called(ctx, bookingID, source)
	return args.Get(0).(ledger.Stats), args.Error(1)
}

func (m *MockStats) Rebuild(ctx context.Context, bookingID string) (ledger.Stats, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).(ledger.Stats), args.Error(1)
}

func (m *MockStats) Events(ctx context.Context, bookingID string, limit int) ([]ledger.Event, error) {
	args := m.Called(ctx, bookingID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Event), args.Error(1)
}

type stubBookings map[string]*slot.Booking

func (s stubBookings) Get(_ context.Context, id string) (*slot.Booking, error) {
	b, ok := s[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b, nil
}

func withUser(id, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != "" {
			c.Set("user_id", id)
			c.Set("user_role", role)
		}
		c.Next()
	}
}

func bookingsFixture() stubBookings {
	return stubBookings{"b1": {ID: "b1", OwnerID: strPtr("owner")}}
}

func TestHandler_TrackAcceptsWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	q := queue.NewMemoryQueue()
	h := NewHandler(NewTracker(q), new(MockStats), bookingsFixture())

	router := gin.New()
	router.POST("/slots/:id/track", h.Track)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slots/b1/track", bytes.NewBufferString(`{"event":"VIEW"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	depth, _ := q.Depth(context.Background())
	assert.Equal(t, int64(1), depth)
}

func TestHandler_TrackRecordsActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	q := queue.NewMemoryQueue()
	h := NewHandler(NewTracker(q), new(MockStats), bookingsFixture())

	router := gin.New()
	router.POST("/slots/:id/track", withUser("u9", "user"), h.Track)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slots/b1/track", bytes.NewBufferString(`{"event":"CLICK"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, err := q.Consume(ctx)
	require.NoError(t, err)
	var ev ledger.TrackEvent
	require.NoError(t, json.Unmarshal((<-in).Body(), &ev))
	assert.Equal(t, "u9", *ev.ActorID)
	assert.Equal(t, ledger.KindClick, ev.Kind)
}

func TestHandler_TrackRejectsUnknownEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewTracker(queue.NewMemoryQueue()), new(MockStats), bookingsFixture())

	router := gin.New()
	router.POST("/slots/:id/track", h.Track)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slots/b1/track", bytes.NewBufferString(`{"event":"HOVER"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_StatsAccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := new(MockStats)
	stats.On("Stats", mock.Anything, "b1", ledger.SourceRollup).
		Return(ledger.Stats{BookingID: "b1", Source: ledger.SourceRollup, Impressions: 2, Clicks: 1, CTR: 0.5}, nil)
	stats.On("Stats", mock.Anything, "b1", ledger.Source("bogus")).
		Return(ledger.Stats{}, ledger.ErrUnknownSource)

	tests := []struct {
		name   string
		user   string
		role   string
		path   string
		status int
	}{
		{"anonymous", "", "", "/slots/b1/stats", http.StatusUnauthorized},
		{"stranger", "someone", "user", "/slots/b1/stats", http.StatusForbidden},
		{"owner", "owner", "user", "/slots/b1/stats", http.StatusOK},
		{"admin", "root", "admin", "/slots/b1/stats", http.StatusOK},
		{"missing booking", "owner", "user", "/slots/nope/stats", http.StatusNotFound},
		{"bad source", "owner", "user", "/slots/b1/stats?source=bogus", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(NewTracker(queue.NewMemoryQueue()), stats, bookingsFixture())
			router := gin.New()
			router.GET("/slots/:id/stats", withUser(tt.user, tt.role), h.Stats)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"ctr":0.5`)
			}
		})
	}
}

func TestHandler_RebuildRollup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := new(MockStats)
	stats.On("Rebuild", mock.Anything, "b1").
		Return(ledger.Stats{BookingID: "b1", Source: ledger.SourceRollup, Impressions: 4, Clicks: 1, CTR: 0.25}, nil)
	h := NewHandler(NewTracker(queue.NewMemoryQueue()), stats, bookingsFixture())

	router := gin.New()
	router.POST("/admin/slots/:id/stats/rebuild", h.RebuildRollup)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/slots/b1/stats/rebuild", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"impressions":4`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/slots/nope/stats/rebuild", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Events(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := new(MockStats)
	stats.On("Events", mock.Anything, "b1", 10).Return([]ledger.Event{{ID: 7, BookingID: "b1"}}, nil)
	h := NewHandler(NewTracker(queue.NewMemoryQueue()), stats, bookingsFixture())

	router := gin.New()
	router.GET("/slots/:id/events", withUser("owner", "user"), h.Events)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slots/b1/events?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"7"`)
}
