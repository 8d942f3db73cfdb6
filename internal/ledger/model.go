package ledger

import (
	"errors"
	"time"
)

type Kind string

const (
	KindView  Kind = "VIEW"
	KindClick Kind = "CLICK"
)

func (k Kind) Valid() bool {
	return k == KindView || k == KindClick
}

var ErrUnknownKind = errors.New("unknown tracking event kind")

// TrackEvent is the queued form of a view or click. MessageID makes
// redelivery harmless.
type TrackEvent struct {
	MessageID  string    `json:"messageId"`
	Kind       Kind      `json:"kind"`
	BookingID  string    `json:"bookingId"`
	ActorID    *string   `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Event is one immutable ledger row.
type Event struct {
	ID        int64      `db:"id" json:"id,string"`
	BookingID string     `db:"booking_id" json:"bookingId"`
	ActorID   *string    `db:"actor_id" json:"actorId,omitempty"`
	ViewedAt  time.Time  `db:"viewed_at" json:"viewedAt"`
	ClickedAt *time.Time `db:"clicked_at" json:"clickedAt,omitempty"`
}

type Counts struct {
	Impressions int64 `db:"impressions" json:"impressions"`
	Clicks      int64 `db:"clicks" json:"clicks"`
}

// CTR is clicks over impressions, zero when nothing was shown.
func (c Counts) CTR() float64 {
	if c.Impressions == 0 {
		return 0
	}
	return float64(c.Clicks) / float64(c.Impressions)
}

func (c *Counts) add(o Counts) {
	c.Impressions += o.Impressions
	c.Clicks += o.Clicks
}

// ApplyResult reports what a batch did.
type ApplyResult struct {
	Applied    int
	Duplicates int
	Skipped    int
	Deltas     map[string]Counts
}
