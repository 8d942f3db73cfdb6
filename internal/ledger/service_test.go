package ledger

import (
	"context"
	"errors"
	"testing"

	"adslot/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ApplyBatch(ctx context.Context, q db.Querier, events []TrackEvent) (ApplyResult, error) {
	args := m.Called(ctx, q, events)
	return args.Get(0).(ApplyResult), args.Error(1)
}

func (m *MockRepository) Counts(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	args := m.Called(ctx, q, bookingID)
	return args.Get(0).(Counts), args.Error(1)
}

func (m *MockRepository) Rollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	args := m.Called(ctx, q, bookingID)
	return args.Get(0).(Counts), args.Error(1)
}

func (m *MockRepository) RebuildRollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	args := m.Called(ctx, q, bookingID)
	return args.Get(0).(Counts), args.Error(1)
}

func (m *MockRepository) Events(ctx context.Context, q db.Querier, bookingID string, limit int) ([]Event, error) {
	args := m.Called(ctx, q, bookingID, limit)
	return args.Get(0).([]Event), args.Error(1)
}

// passTx runs fn directly and counts invocations.
type passTx struct {
	calls int
}

func (p *passTx) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	p.calls++
	return fn(nil)
}

func TestServiceStats(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		setup  func(r *MockRepository)
		want   Stats
		err    error
	}{
		{
			name:   "default source reads rollup",
			source: "",
			setup: func(r *MockRepository) {
				r.On("Rollup", mock.Anything, mock.Anything, "b1").Return(Counts{Impressions: 4, Clicks: 1}, nil)
			},
			want: Stats{BookingID: "b1", Source: SourceRollup, Impressions: 4, Clicks: 1, CTR: 0.25},
		},
		{
			name:   "ledger source recounts rows",
			source: SourceLedger,
			setup: func(r *MockRepository) {
				r.On("Counts", mock.Anything, mock.Anything, "b1").Return(Counts{Impressions: 2, Clicks: 1}, nil)
			},
			want: Stats{BookingID: "b1", Source: SourceLedger, Impressions: 2, Clicks: 1, CTR: 0.5},
		},
		{
			name:   "no views gives zero ctr",
			source: SourceRollup,
			setup: func(r *MockRepository) {
				r.On("Rollup", mock.Anything, mock.Anything, "b1").Return(Counts{}, nil)
			},
			want: Stats{BookingID: "b1", Source: SourceRollup},
		},
		{
			name:   "unknown source",
			source: "cache",
			setup:  func(r *MockRepository) {},
			err:    ErrUnknownSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			tt.setup(repo)
			svc := NewService(repo, nil, &passTx{})

			got, err := svc.Stats(context.Background(), "b1", tt.source)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			repo.AssertExpectations(t)
		})
	}
}

func TestServiceApply(t *testing.T) {
	repo := new(MockRepository)
	tx := &passTx{}
	svc := NewService(repo, nil, tx)

	events := []TrackEvent{{MessageID: "m1", Kind: KindView, BookingID: "b1"}}
	repo.On("ApplyBatch", mock.Anything, nil, events).Return(ApplyResult{Applied: 1}, nil).Once()

	res, err := svc.Apply(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, tx.calls)
	repo.AssertExpectations(t)
}

func TestServiceApply_Error(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, nil, &passTx{})

	boom := errors.New("deadlock detected")
	repo.On("ApplyBatch", mock.Anything, mock.Anything, mock.Anything).Return(ApplyResult{Applied: 3}, boom)

	res, err := svc.Apply(context.Background(), []TrackEvent{{MessageID: "m1"}})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, res.Applied)
}

func TestServiceRebuild(t *testing.T) {
	repo := new(MockRepository)
	tx := &passTx{}
	svc := NewService(repo, nil, tx)

	repo.On("RebuildRollup", mock.Anything, mock.Anything, "b1").Return(Counts{Impressions: 10, Clicks: 3}, nil)

	got, err := svc.Rebuild(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, SourceRollup, got.Source)
	assert.Equal(t, int64(10), got.Impressions)
	assert.InDelta(t, 0.3, got.CTR, 1e-9)
	assert.Equal(t, 1, tx.calls)
}
