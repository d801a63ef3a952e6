package trip

import "strings"

// Status is one state of the trip lifecycle.
//
// Share and Hire trips share a spine; Hire branches at Approved into the
// payment-selection path and replaces the boarding states with the
// handover/return states. Every status carries an integer rank reflecting
// forward progress; the rank comparison in CanTransition is what lets the
// reconciliation engine discard stale snapshots without tracking arrival
// order across sources.
type Status string

const (
	StatusPending                  Status = "PENDING"
	StatusApproved                 Status = "APPROVED"
	StatusScheduled                Status = "SCHEDULED"
	StatusAwaitingPaymentSelection Status = "AWAITING_PAYMENT_SELECTION"
	StatusInbound                  Status = "INBOUND"
	StatusArrived                  Status = "ARRIVED"
	StatusBoarded                  Status = "BOARDED"
	StatusHandoverPending          Status = "HANDOVER_PENDING"
	StatusInProgress               Status = "IN_PROGRESS"
	StatusActive                   Status = "ACTIVE"
	StatusPaymentDue               Status = "PAYMENT_DUE"
	StatusReturnPending            Status = "RETURN_PENDING"
	StatusCompleted                Status = "COMPLETED"
	StatusCancelled                Status = "CANCELLED"
	StatusRefunded                 Status = "REFUNDED"

	// StatusInvalid is the parse failure sentinel. The engine rejects
	// updates proposing it; nothing else ever stores it.
	StatusInvalid Status = ""
)

// statusRanks orders the lifecycle. Branch states that occupy the same
// position on the Share and Hire spines share a rank (Scheduled and
// AwaitingPaymentSelection both follow Approved; Boarded and
// HandoverPending both follow Arrived; and so on). Cancelled and Refunded
// sit out of band above every forward state.
var statusRanks = map[Status]int{
	StatusPending:                  0,
	StatusApproved:                 1,
	StatusScheduled:                2,
	StatusAwaitingPaymentSelection: 2,
	StatusInbound:                  3,
	StatusArrived:                  4,
	StatusBoarded:                  5,
	StatusHandoverPending:          5,
	StatusInProgress:               6,
	StatusActive:                   6,
	StatusPaymentDue:               7,
	StatusReturnPending:            7,
	StatusCompleted:                8,
	StatusCancelled:                100,
	StatusRefunded:                 101,
}

// Rank returns the forward-progress rank of a status.
// The second return is false for unknown statuses.
func Rank(s Status) (int, bool) {
	r, ok := statusRanks[s]
	return r, ok
}

// Known reports whether s is a member of the lifecycle.
func Known(s Status) bool {
	_, ok := statusRanks[s]
	return ok
}

// Terminal reports whether s accepts no further transitions.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether an update may move a trip from one status
// to another.
//
// The rules, in order:
//   - a terminal trip accepts nothing
//   - Cancelled is reachable from any non-terminal state
//   - Refunded is reachable only from PaymentDue and HandoverPending
//     (failed-payment escalation; a policy edge, never automatic)
//   - otherwise the destination rank must be greater than or equal to the
//     current rank
//
// The >= comparison (rather than >) is what makes re-applying an accepted
// update a no-op instead of a rejection.
func CanTransition(from, to Status) bool {
	fromRank, ok := statusRanks[from]
	if !ok {
		return false
	}
	toRank, ok := statusRanks[to]
	if !ok {
		return false
	}
	if Terminal(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	if to == StatusRefunded {
		return from == StatusPaymentDue || from == StatusHandoverPending
	}
	return toRank >= fromRank
}

// statusLookup maps a case- and separator-insensitive key to the canonical
// status. Poll snapshots spell statuses in CamelCase ("Inbound",
// "AwaitingPaymentSelection") while push events use snake case; both
// collapse to the same key here.
var statusLookup = buildStatusLookup()

func buildStatusLookup() map[string]Status {
	m := make(map[string]Status, len(statusRanks))
	for s := range statusRanks {
		m[statusKey(string(s))] = s
	}
	return m
}

func statusKey(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

// ParseStatus resolves a raw status string from any source to its canonical
// value. Returns (StatusInvalid, false) for strings outside the lifecycle;
// callers treat that as a reject, never an error.
func ParseStatus(raw string) (Status, bool) {
	s, ok := statusLookup[statusKey(raw)]
	if !ok {
		return StatusInvalid, false
	}
	return s, true
}
