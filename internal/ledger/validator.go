package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/unav4ila8le/foliofox-sub003/internal/model"
)

// Validate proves that committing candidate would not violate timeline
// invariants. It is a pure predicate: no mutation, no persistence.
//
// window holds the position's existing events from the earliest affected
// date forward (on an edit, the old version of the event must already be
// removed from it). seed is the last known state strictly before the window,
// or the zero State when no prior history or reset precedes it.
//
// The merged window is replayed in canonical (date, created_at, id) order
// exactly as the replay engine would; the first point where the running
// quantity would go negative is rejected, identifying the offending event.
// Resets set quantity absolutely and can never go negative themselves.
func Validate(window []model.Event, candidate model.Event, seed State) Outcome {
	switch candidate.Type {
	case model.EventBuy, model.EventSell:
		if !candidate.Quantity.IsPositive() {
			return Reject(CodeInvalidQuantity,
				fmt.Sprintf("%s quantity must be greater than zero, got %s", candidate.Type, candidate.Quantity))
		}
	case model.EventReset:
		if candidate.Quantity.IsNegative() {
			return Reject(CodeInvalidQuantity,
				fmt.Sprintf("reset quantity must not be negative, got %s", candidate.Quantity))
		}
	default:
		return Reject(CodeInvalidQuantity,
			fmt.Sprintf("unknown event type %q", candidate.Type))
	}

	merged := make([]model.Event, 0, len(window)+1)
	merged = append(merged, window...)
	merged = append(merged, candidate)

	return validateWindow(merged, seed, candidate.ID)
}

// ValidateRemoval proves that deleting an event leaves the remaining window
// consistent (removing a buy may strand a later sell). window must already
// exclude the event being removed.
func ValidateRemoval(window []model.Event, seed State) Outcome {
	merged := make([]model.Event, len(window))
	copy(merged, window)
	return validateWindow(merged, seed, "")
}

// validateWindow replays merged (which it sorts canonically) from seed and
// rejects at the first projected negative quantity. candidateID, when set,
// lets the message call out the proposed event rather than an existing one.
func validateWindow(merged []model.Event, seed State, candidateID string) Outcome {
	SortEvents(merged)

	running := seed.Quantity
	for _, ev := range merged {
		switch ev.Type {
		case model.EventReset:
			running = ev.Quantity
		case model.EventBuy:
			running = running.Add(ev.Quantity)
		case model.EventSell:
			running = running.Sub(ev.Quantity)
			if running.IsNegative() {
				return Reject(CodeNegativeQuantityProjected, negativeMessage(ev, candidateID, running))
			}
		}
	}

	return OK()
}

func negativeMessage(offender model.Event, candidateID string, projected decimal.Decimal) string {
	subject := fmt.Sprintf("event %s", offender.ID)
	if candidateID != "" && offender.ID == candidateID {
		subject = "the proposed event"
	}
	return fmt.Sprintf("%s on %s would leave quantity at %s; a sell may not remove more than is held",
		subject, model.DayKey(offender.Date), projected)
}
