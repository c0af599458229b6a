// Package roster models the ordered chain of participants in a document's
// approval flow: who signs, in what order, and where on the PDF their
// signature block lands.
package roster

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/worawit/docflow/internal/geometry"
)

// Role tags a roster entry with its function in the chain.
type Role string

const (
	RoleAuthor        Role = "author"
	RoleClerk         Role = "clerk"
	RoleApproverTier1 Role = "approver_tier1"
	RoleApproverTier2 Role = "approver_tier2"
	RoleFinalSigner   Role = "final_signer"
)

var (
	ErrInvalidOrder  = errors.New("invalid signer order")
	ErrOutOfBounds   = errors.New("position outside page bounds")
	ErrUnknownSigner = errors.New("no signer at that order")
	ErrIncomplete    = errors.New("roster needs an author and a final signer")
)

// Position is a placed signature location in PDF points. Page is 1-based.
type Position struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Entry is one participant in the chain. Position stays nil until the author
// places it on the rendered page; Comment is captured at approval time for
// approver and final-signer roles.
type Entry struct {
	Order    int       `json:"order"`
	Role     Role      `json:"role"`
	UserID   string    `json:"userId"`
	Position *Position `json:"position,omitempty"`
	Comment  string    `json:"comment,omitempty"`
}

// Roster holds the entries of one document sorted by ascending order.
type Roster struct {
	entries []Entry
}

// New builds a roster from entries, sorting by order. It fails if two entries
// share an order or the chain lacks an author or final signer.
func New(entries ...Entry) (*Roster, error) {
	r := &Roster{entries: append([]Entry(nil), entries...)}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Order < r.entries[j].Order })
	seen := make(map[int]bool, len(r.entries))
	for _, e := range r.entries {
		if e.Order < 1 {
			return nil, fmt.Errorf("%w: order %d", ErrInvalidOrder, e.Order)
		}
		if seen[e.Order] {
			return nil, fmt.Errorf("%w: duplicate order %d", ErrInvalidOrder, e.Order)
		}
		seen[e.Order] = true
	}
	if r.EntryByRole(RoleAuthor) == nil || r.EntryByRole(RoleFinalSigner) == nil {
		return nil, ErrIncomplete
	}
	return r, nil
}

// AddOrUpdateEntry inserts or replaces the entry at order. While the document
// is in draft any entry may be replaced; once submitted, an order may only be
// re-pointed at the same identity.
func (r *Roster) AddOrUpdateEntry(order int, role Role, userID string, draft bool) error {
	if order < 1 || (role != RoleAuthor && order <= 1) {
		return fmt.Errorf("%w: order %d for role %s", ErrInvalidOrder, order, role)
	}
	for i, e := range r.entries {
		if e.Order != order {
			continue
		}
		if !draft && e.UserID != userID {
			return fmt.Errorf("%w: order %d already held by another signer", ErrInvalidOrder, order)
		}
		r.entries[i].Role = role
		r.entries[i].UserID = userID
		return nil
	}
	r.entries = append(r.entries, Entry{Order: order, Role: role, UserID: userID})
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Order < r.entries[j].Order })
	return nil
}

// PlacePosition records where the signer at order signs. Coordinates are in
// PDF points on the reference page.
func (r *Roster) PlacePosition(order, page int, x, y float64) error {
	if page < 1 || !geometry.InBounds(x, y) {
		return fmt.Errorf("%w: page %d (%.1f, %.1f)", ErrOutOfBounds, page, x, y)
	}
	for i := range r.entries {
		if r.entries[i].Order == order {
			r.entries[i].Position = &Position{Page: page, X: x, Y: y}
			return nil
		}
	}
	return fmt.Errorf("%w: order %d", ErrUnknownSigner, order)
}

// RemovePosition clears a placement.
func (r *Roster) RemovePosition(order int) error {
	for i := range r.entries {
		if r.entries[i].Order == order {
			r.entries[i].Position = nil
			return nil
		}
	}
	return fmt.Errorf("%w: order %d", ErrUnknownSigner, order)
}

// ClearPositionsFrom drops every placement at or above order. Used when a
// rejected document returns to draft and positions must be re-collected.
func (r *Roster) ClearPositionsFrom(order int) {
	for i := range r.entries {
		if r.entries[i].Order >= order {
			r.entries[i].Position = nil
			r.entries[i].Comment = ""
		}
	}
}

// EntryAt returns the entry at order, or nil.
func (r *Roster) EntryAt(order int) *Entry {
	for i := range r.entries {
		if r.entries[i].Order == order {
			return &r.entries[i]
		}
	}
	return nil
}

// EntryForUser returns the first entry held by userID, or nil.
func (r *Roster) EntryForUser(userID string) *Entry {
	for i := range r.entries {
		if r.entries[i].UserID == userID {
			return &r.entries[i]
		}
	}
	return nil
}

// EntryByRole returns the first entry with the given role, or nil.
func (r *Roster) EntryByRole(role Role) *Entry {
	for i := range r.entries {
		if r.entries[i].Role == role {
			return &r.entries[i]
		}
	}
	return nil
}

// MaxOrder is the highest order in the chain, i.e. the final signer's turn.
func (r *Roster) MaxOrder() int {
	if len(r.entries) == 0 {
		return 0
	}
	return r.entries[len(r.entries)-1].Order
}

// Entries returns a copy of all entries in ascending order.
func (r *Roster) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// EntriesExcluding yields entries in ascending order, skipping the given
// roles. The sequence is restartable; ranging over it twice walks the roster
// twice.
func (r *Roster) EntriesExcluding(roles ...Role) iter.Seq[Entry] {
	skip := make(map[Role]bool, len(roles))
	for _, role := range roles {
		skip[role] = true
	}
	return func(yield func(Entry) bool) {
		for _, e := range r.entries {
			if skip[e.Role] {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
