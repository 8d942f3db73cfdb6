package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/shopspring/decimal"
)

const chargeCompleteKey = "charge.complete"

type OmiseConfig struct {
	PublicKey  string
	SecretKey  string
	Currency   string
	SourceType string
	ReturnURI  string
}

// OmiseGateway opens a source-backed charge per intent and verifies webhook
// events by retrieving them again from Omise.
type OmiseGateway struct {
	client *omise.Client
	cfg    OmiseConfig
}

func NewOmiseGateway(cfg OmiseConfig) (*OmiseGateway, error) {
	client, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &OmiseGateway{client: client, cfg: cfg}, nil
}

// subunits converts a money amount into the smallest currency unit, rounding up.
func subunits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Ceil().IntPart()
}

func (g *OmiseGateway) CreateIntent(ctx context.Context, in Intent) (IntentRef, error) {
	amount := subunits(in.Amount)
	if amount <= 0 || in.BookingID == "" {
		return IntentRef{}, ErrInvalidPayment
	}
	if err := ctx.Err(); err != nil {
		return IntentRef{}, err
	}

	src := &omise.Source{}
	if err := g.client.Do(src, &operations.CreateSource{
		Type:     g.cfg.SourceType,
		Amount:   amount,
		Currency: g.cfg.Currency,
	}); err != nil {
		return IntentRef{}, fmt.Errorf("%w: create source: %v", ErrGateway, err)
	}

	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.CreateCharge{
		Amount:    amount,
		Currency:  g.cfg.Currency,
		Source:    src.ID,
		ReturnURI: g.cfg.ReturnURI,
		Metadata:  intentMetadata(in),
	}); err != nil {
		return IntentRef{}, fmt.Errorf("%w: create charge: %v", ErrGateway, err)
	}

	if string(ch.Status) == "failed" {
		return IntentRef{}, fmt.Errorf("%w: charge %s failed: %s", ErrGateway, ch.ID, failureReason(ch))
	}

	return IntentRef{ID: ch.ID, RedirectURL: ch.AuthorizeURI}, nil
}

func (g *OmiseGateway) VerifyEvent(ctx context.Context, eventID string) (Outcome, error) {
	if eventID == "" {
		return Outcome{}, ErrUnverified
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	ev := &omise.Event{}
	if err := g.client.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	return outcomeFromEvent(ev)
}

func intentMetadata(in Intent) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":    in.BookingID,
		"owner_id":      in.OwnerID,
		"slot_type":     in.SlotType,
		"slot_key":      in.SlotKey,
		"duration_days": strconv.Itoa(in.DurationDays),
	}
}

func outcomeFromEvent(ev *omise.Event) (Outcome, error) {
	if ev.Key != chargeCompleteKey {
		return Outcome{}, ErrIgnoredEvent
	}

	// Data arrives untyped; round-trip it into a charge.
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	return outcomeFromCharge(&ch)
}

func outcomeFromCharge(ch *omise.Charge) (Outcome, error) {
	bookingID, _ := ch.Metadata["booking_id"].(string)
	if bookingID == "" {
		return Outcome{}, fmt.Errorf("%w: charge %s has no booking", ErrUnverified, ch.ID)
	}

	out := Outcome{BookingID: bookingID, ChargeID: ch.ID}
	switch string(ch.Status) {
	case "successful":
		out.Paid = true
	case "failed", "expired", "reversed":
		out.Reason = failureReason(ch)
	default:
		// pending charges are settled by a later event
		return Outcome{}, ErrIgnoredEvent
	}
	return out, nil
}

func failureReason(ch *omise.Charge) string {
	if ch.FailureCode != nil {
		return *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		return *ch.FailureMessage
	}
	return string(ch.Status)
}
