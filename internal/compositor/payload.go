// Package compositor adapts one approval action into the request the external
// rasterization service needs, and interprets its outcome.
package compositor

import (
	"errors"
	"fmt"
	"time"

	"github.com/worawit/docflow/internal/roster"
)

var ErrNoPlacement = errors.New("acting signer has no placed position")

// Default signature block footprint in PDF points.
const (
	blockWidthPt  = 120
	blockHeightPt = 60
)

// Block is one signature annotation. Page is 1-based here; the client
// converts to the service's 0-based indexing on submit.
type Block struct {
	Page   int      `json:"page"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Lines  []string `json:"lines"`
}

// Signer carries the presentation fields of the acting signer, resolved from
// the profile boundary before payload assembly.
type Signer struct {
	FullName string
	Title    string
}

// BuildPayload emits one block per placed position held by the signer at
// actingOrder. A signer may occupy several positions across pages; only the
// first block carries the free-text comment, the rest repeat name and title
// lines only.
func BuildPayload(r *roster.Roster, actingOrder int, signer Signer, comment string, signedAt time.Time) ([]Block, error) {
	acting := r.EntryAt(actingOrder)
	if acting == nil {
		return nil, fmt.Errorf("%w: order %d", roster.ErrUnknownSigner, actingOrder)
	}
	var blocks []Block
	for _, e := range r.Entries() {
		if e.UserID != acting.UserID || e.Position == nil {
			continue
		}
		lines := contentLines(e.Role, signer, signedAt)
		if comment != "" && len(blocks) == 0 {
			lines = append([]string{comment}, lines...)
		}
		blocks = append(blocks, Block{
			Page:   e.Position.Page,
			X:      e.Position.X,
			Y:      e.Position.Y,
			Width:  blockWidthPt,
			Height: blockHeightPt,
			Lines:  lines,
		})
	}
	if len(blocks) == 0 {
		return nil, ErrNoPlacement
	}
	return blocks, nil
}

// contentLines varies by role: approver and final-signer blocks carry the
// signer's title line, the clerk's block is a bare name-and-date stamp.
func contentLines(role roster.Role, signer Signer, signedAt time.Time) []string {
	date := signedAt.Format("02/01/2006")
	switch role {
	case roster.RoleAuthor, roster.RoleClerk:
		return []string{signer.FullName, date}
	default:
		return []string{signer.FullName, signer.Title, date}
	}
}
