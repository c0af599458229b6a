// Package approval implements the sequential-signing state machine. A
// document advances through its roster in strictly ascending order until the
// final signer closes it, or a signer returns it to the author.
package approval

import (
	"errors"
	"time"

	"github.com/worawit/docflow/internal/roster"
)

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusPendingSign Status = "pending_sign"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// Sentinel order values. A document parked at RejectedOrder waits for the
// author to resubmit; CompletedOrder means no further signer exists.
const (
	RejectedOrder  = 0
	CompletedOrder = 5
)

var (
	ErrNotYourTurn            = errors.New("not this signer's turn")
	ErrTerminalState          = errors.New("document is in a terminal state")
	ErrNotRejected            = errors.New("only a rejected document can be resubmitted")
	ErrConcurrentModification = errors.New("document changed since it was read")
)

// Decision is the outcome of one approval action.
type Decision struct {
	NextOrder  int    `json:"nextOrder"`
	NextStatus Status `json:"nextStatus"`
}

// Rejection is the immutable audit record of a returned document.
type Rejection struct {
	ByUserID string    `json:"byUserId"`
	ByName   string    `json:"byName"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Terminal reports whether the order value is one of the two sentinels.
func Terminal(order int) bool {
	return order == RejectedOrder || order == CompletedOrder
}

// CheckTurn guards an approval attempt: the acting signer's roster order must
// equal the document's current order, the document must not be parked at a
// sentinel, and the author's informational entry never gates anyone. The
// final signer may act at any live order (the shortcut below), and override
// identities (administrative) bypass the turn check but not the terminal one.
func CheckTurn(currentOrder int, r *roster.Roster, entry *roster.Entry, override bool) error {
	if Terminal(currentOrder) {
		return ErrTerminalState
	}
	if entry == nil || entry.Role == roster.RoleAuthor {
		return ErrNotYourTurn
	}
	if override || entry.Role == roster.RoleFinalSigner {
		return nil
	}
	turn := currentOrder
	if currentOrder == 1 {
		// Order 1 is the author's own step and counts as already satisfied;
		// the first configured reviewer holds the turn while in draft.
		for e := range r.EntriesExcluding(roster.RoleAuthor) {
			turn = e.Order
			break
		}
	}
	if entry.Order != turn {
		return ErrNotYourTurn
	}
	return nil
}

// ComputeNext decides where the document goes after an approval by the signer
// holding actingRole. The final signer always closes the document, even when
// intermediate tiers were never configured.
func ComputeNext(currentOrder int, r *roster.Roster, actingRole roster.Role) Decision {
	if actingRole == roster.RoleFinalSigner {
		return Decision{NextOrder: CompletedOrder, NextStatus: StatusApproved}
	}
	next := CompletedOrder
	for e := range r.EntriesExcluding(roster.RoleAuthor) {
		if e.Order > currentOrder {
			next = e.Order
			break
		}
	}
	if next == CompletedOrder {
		return Decision{NextOrder: CompletedOrder, NextStatus: StatusApproved}
	}
	return Decision{NextOrder: next, NextStatus: StatusPendingSign}
}

// Reject returns the document to its author and produces the audit record.
func Reject(byUserID, byName, reason string, now time.Time) (Decision, Rejection) {
	return Decision{NextOrder: RejectedOrder, NextStatus: StatusRejected},
		Rejection{ByUserID: byUserID, ByName: byName, Reason: reason, At: now}
}

// Resubmit moves a rejected document back to draft. Placements from the first
// reviewer step onward are cleared so they can be collected again.
func Resubmit(currentOrder int, r *roster.Roster) (Decision, error) {
	if currentOrder != RejectedOrder {
		return Decision{}, ErrNotRejected
	}
	r.ClearPositionsFrom(2)
	return Decision{NextOrder: 1, NextStatus: StatusDraft}, nil
}
