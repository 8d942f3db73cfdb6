package slot

import (
	"errors"
	"sort"
	"time"
)

var ErrInvalidWindow = errors.New("window end must be after start")

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start time.Time, durationDays int) Window {
	return Window{Start: start, End: start.Add(time.Duration(durationDays) * 24 * time.Hour)}
}

func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// Overlaps covers start-inside, end-inside and containment in one predicate.
// Touching windows ([a,b) and [b,c)) do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// SameSlot reports whether two claims compete for the same placement. A claim
// without a key competes with every key of its slot type.
func SameSlot(typeA string, keyA *string, typeB string, keyB *string) bool {
	if typeA != typeB {
		return false
	}
	if keyA == nil || keyB == nil {
		return true
	}
	return *keyA == *keyB
}

// Conflicts reports whether candidate would overlap any active booking in set.
func Conflicts(set []Booking, slotType string, slotKey *string, w Window) bool {
	for i := range set {
		b := &set[i]
		if !b.IsActive {
			continue
		}
		if SameSlot(b.SlotType, b.SlotKey, slotType, slotKey) && b.Window().Overlaps(w) {
			return true
		}
	}
	return false
}

// Order sorts in display order: house first, then priority desc, then slot index asc.
func Order(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if a.IsHouse() != b.IsHouse() {
			return a.IsHouse()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.SlotIndex < b.SlotIndex
	})
}
