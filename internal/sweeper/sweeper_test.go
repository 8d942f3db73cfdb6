package sweeper

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"adslot/internal/metrics"
	"adslot/internal/slot"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const deactivateSQL = "UPDATE slot_bookings SET is_active = FALSE, updated_at = NOW() WHERE is_active AND end_date < $1 RETURNING slot_type"

type MockInvalidator struct{ mock.Mock }

func (m *MockInvalidator) InvalidateSlotType(ctx context.Context, slotType string) error {
	return m.Called(ctx, slotType).Error(0)
}

func (m *MockInvalidator) InvalidateAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func setup(t *testing.T) (*Sweeper, sqlmock.Sqlmock, *MockInvalidator, time.Time) {
	t.Helper()
	sqlDB, sm, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(sqlDB, "sqlmock")
	t.Cleanup(func() { db.Close() })

	cache := new(MockInvalidator)
	s := New(slot.NewRepository(), db, cache, time.Minute)
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, sm, cache, now
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	s, sm, cache, now := setup(t)
	cache.On("InvalidateAll", mock.Anything).Return(nil).Once()

	sm.ExpectQuery(regexp.QuoteMeta(deactivateSQL)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"slot_type"}).AddRow("HOME").AddRow("SIDEBAR"))
	sm.ExpectQuery(regexp.QuoteMeta(deactivateSQL)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"slot_type"}))

	before := testutil.ToFloat64(metrics.SweptBookingsTotal)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	cache.AssertNumberOfCalls(t, "InvalidateAll", 1)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SweptBookingsTotal))
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestRunOnce_InvalidationFailureIsNotFatal(t *testing.T) {
	s, sm, cache, now := setup(t)
	cache.On("InvalidateAll", mock.Anything).Return(errors.New("redis down"))

	sm.ExpectQuery(regexp.QuoteMeta(deactivateSQL)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"slot_type"}).AddRow("HOME"))

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnce_DatabaseError(t *testing.T) {
	s, sm, cache, now := setup(t)

	sm.ExpectQuery(regexp.QuoteMeta(deactivateSQL)).
		WithArgs(now).
		WillReturnError(errors.New("connection reset"))

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	cache.AssertNotCalled(t, "InvalidateAll", mock.Anything)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, sm, _, now := setup(t)
	sm.ExpectQuery(regexp.QuoteMeta(deactivateSQL)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"slot_type"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return sm.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"HOME", "SIDEBAR"}, distinct([]string{"HOME", "SIDEBAR", "HOME"}))
}
