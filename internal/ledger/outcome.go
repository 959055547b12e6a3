package ledger

import "errors"

// Code classifies a structured validation or recalculation outcome.
type Code string

const (
	// CodeInvalidQuantity is returned when an event's quantity violates its
	// type rule: buy and sell require quantity > 0, reset requires >= 0.
	CodeInvalidQuantity Code = "INVALID_QUANTITY"

	// CodeNegativeQuantityProjected is returned when committing the proposed
	// event would drive the running quantity negative somewhere in the
	// replayed window.
	CodeNegativeQuantityProjected Code = "NEGATIVE_QUANTITY_PROJECTED"

	// CodeTimelineFetchFailed is returned when the comparison window could
	// not be loaded from storage. It distinguishes "we couldn't check your
	// edit" from "your edit is invalid".
	CodeTimelineFetchFailed Code = "TIMELINE_FETCH_FAILED"

	// CodeRecalculationFailed marks a fatal failure while rewriting the
	// snapshot window. The caller must decide whether to roll back the
	// just-committed event.
	CodeRecalculationFailed Code = "RECALCULATION_FAILED"
)

// Outcome is the structured result of validating a proposed timeline change.
// It is a plain value: validation never mutates or persists anything.
type Outcome struct {
	Valid   bool   `json:"valid"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK returns a passing outcome.
func OK() Outcome {
	return Outcome{Valid: true}
}

// Reject returns a failing outcome with the given code and message.
func Reject(code Code, message string) Outcome {
	return Outcome{Valid: false, Code: code, Message: message}
}

var (
	// ErrResetInWindow reports a reset event strictly inside a replay
	// window. Correct boundary construction makes this impossible, so its
	// occurrence is an internal invariant violation, never a silent no-op.
	ErrResetInWindow = errors.New("ledger: reset event inside replay window")

	// ErrRecalculationFailed wraps any failure during snapshot window
	// recalculation. A partial write would leave reporting wrong, so this is
	// fatal for the triggering operation and must never be swallowed.
	ErrRecalculationFailed = errors.New("ledger: recalculation failed")
)
