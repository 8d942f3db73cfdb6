package ledger

import (
	"context"
	"errors"
	"fmt"

	"adslot/internal/db"
)

type Source string

const (
	SourceRollup Source = "rollup"
	SourceLedger Source = "ledger"
)

var ErrUnknownSource = errors.New("stats source must be rollup or ledger")

type Stats struct {
	BookingID   string  `json:"bookingId"`
	Source      Source  `json:"source"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

type Service struct {
	repo Repository
	db   db.Querier
	tx   db.TxRunner
}

func NewService(repo Repository, q db.Querier, tx db.TxRunner) *Service {
	return &Service{repo: repo, db: q, tx: tx}
}

// Apply writes a batch of tracking events and their rollup deltas atomically.
func (s *Service) Apply(ctx context.Context, events []TrackEvent) (ApplyResult, error) {
	var result ApplyResult
	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		result, err = s.repo.ApplyBatch(ctx, q, events)
		return err
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply tracking batch: %w", err)
	}
	return result, nil
}

func (s *Service) Stats(ctx context.Context, bookingID string, source Source) (Stats, error) {
	var (
		c   Counts
		err error
	)
	switch source {
	case SourceRollup, "":
		source = SourceRollup
		c, err = s.repo.Rollup(ctx, s.db, bookingID)
	case SourceLedger:
		c, err = s.repo.Counts(ctx, s.db, bookingID)
	default:
		return Stats{}, ErrUnknownSource
	}
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		BookingID:   bookingID,
		Source:      source,
		Impressions: c.Impressions,
		Clicks:      c.Clicks,
		CTR:         c.CTR(),
	}, nil
}

func (s *Service) Rebuild(ctx context.Context, bookingID string) (Stats, error) {
	var c Counts
	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		c, err = s.repo.RebuildRollup(ctx, q, bookingID)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{BookingID: bookingID, Source: SourceRollup, Impressions: c.Impressions, Clicks: c.Clicks, CTR: c.CTR()}, nil
}

func (s *Service) Events(ctx context.Context, bookingID string, limit int) ([]Event, error) {
	return s.repo.Events(ctx, s.db, bookingID, limit)
}
