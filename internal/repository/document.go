// Package repository wraps all SQL used throughout the API and worker.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worawit/docflow/internal/approval"
	"github.com/worawit/docflow/internal/roster"
)

var ErrNotFound = errors.New("not found")

// DocType distinguishes internal memos from received correspondence.
type DocType string

const (
	DocTypeMemo    DocType = "memo"
	DocTypeInbound DocType = "inbound"
)

// Document is a row in the documents table. CurrentOrder doubles as the
// optimistic version: every state transition compares it at commit time.
type Document struct {
	ID           string          `json:"id"`
	DocType      DocType         `json:"docType"`
	Subject      string          `json:"subject"`
	AuthorID     string          `json:"authorId"`
	CurrentOrder int             `json:"currentOrder"`
	Status       approval.Status `json:"status"`
	ObjectKey    string          `json:"objectKey"`
	Revision     int             `json:"revision"`
	IsAssigned   bool            `json:"isAssigned"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DocumentRepository persists documents, their signer rosters, and the
// rejection audit trail.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Create inserts a draft document together with its initial roster.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document, chain *roster.Roster) error {
	now := time.Now().UTC()
	doc.CurrentOrder = 1
	doc.Status = approval.StatusDraft
	doc.CreatedAt = now
	doc.UpdatedAt = now
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, doc_type, subject, author_id, current_order, status, object_key, revision, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, doc.ID, doc.DocType, doc.Subject, doc.AuthorID, doc.CurrentOrder, doc.Status, doc.ObjectKey, doc.Revision, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for _, e := range chain.Entries() {
		if err := insertEntry(ctx, tx, doc.ID, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a document and its roster.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*Document, *roster.Roster, error) {
	var doc Document
	row := r.pool.QueryRow(ctx, `
		SELECT id, doc_type, subject, author_id, current_order, status, object_key, revision, is_assigned, created_at, updated_at
		FROM documents WHERE id=$1
	`, id)
	if err := row.Scan(&doc.ID, &doc.DocType, &doc.Subject, &doc.AuthorID, &doc.CurrentOrder, &doc.Status,
		&doc.ObjectKey, &doc.Revision, &doc.IsAssigned, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("select document: %w", err)
	}
	chain, err := r.loadRoster(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &doc, chain, nil
}

// ListByStatus returns documents in a given status, newest first.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status approval.Status, limit int) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doc_type, subject, author_id, current_order, status, object_key, revision, is_assigned, created_at, updated_at
		FROM documents WHERE status=$1 ORDER BY updated_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.DocType, &doc.Subject, &doc.AuthorID, &doc.CurrentOrder, &doc.Status,
			&doc.ObjectKey, &doc.Revision, &doc.IsAssigned, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpsertRosterEntry inserts or replaces one roster entry. Only valid while
// the document is in draft for identity changes; the caller enforces that
// through roster.AddOrUpdateEntry first.
func (r *DocumentRepository) UpsertRosterEntry(ctx context.Context, docID string, e roster.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roster_entries (document_id, sign_order, role, user_id, page, pos_x, pos_y, comment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (document_id, sign_order)
		DO UPDATE SET role=EXCLUDED.role, user_id=EXCLUDED.user_id, page=EXCLUDED.page, pos_x=EXCLUDED.pos_x, pos_y=EXCLUDED.pos_y
	`, docID, e.Order, e.Role, e.UserID, pagePtr(e.Position), xPtr(e.Position), yPtr(e.Position), e.Comment)
	if err != nil {
		return fmt.Errorf("upsert roster entry: %w", err)
	}
	return nil
}

// SavePosition stores a placement for the signer at order.
func (r *DocumentRepository) SavePosition(ctx context.Context, docID string, order int, pos *roster.Position) error {
	var page *int
	var x, y *float64
	if pos != nil {
		page, x, y = &pos.Page, &pos.X, &pos.Y
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE roster_entries SET page=$1, pos_x=$2, pos_y=$3 WHERE document_id=$4 AND sign_order=$5
	`, page, x, y, docID, order)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("roster entry %d: %w", order, ErrNotFound)
	}
	return nil
}

// Advance commits one approval: the new order/status, the replacement PDF
// object, and the acting signer's comment, all guarded by the optimistic
// check on current_order. A concurrent approval makes the WHERE clause miss
// and surfaces as ErrConcurrentModification.
func (r *DocumentRepository) Advance(ctx context.Context, docID string, expectedOrder int, dec approval.Decision, newObjectKey string, actingOrder int, comment string) error {
	now := time.Now().UTC()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET current_order=$1, status=$2, object_key=$3, revision=revision+1, updated_at=$4
		WHERE id=$5 AND current_order=$6
	`, dec.NextOrder, dec.NextStatus, newObjectKey, now, docID, expectedOrder)
	if err != nil {
		return fmt.Errorf("advance document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrConcurrentModification
	}
	if comment != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE roster_entries SET comment=$1 WHERE document_id=$2 AND sign_order=$3
		`, comment, docID, actingOrder); err != nil {
			return fmt.Errorf("store comment: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Reject parks the document at the rejected sentinel and appends the
// immutable audit row, under the same optimistic guard as Advance.
func (r *DocumentRepository) Reject(ctx context.Context, docID string, expectedOrder int, audit approval.Rejection) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx, `
		UPDATE documents SET current_order=$1, status=$2, updated_at=$3
		WHERE id=$4 AND current_order=$5
	`, approval.RejectedOrder, approval.StatusRejected, audit.At, docID, expectedOrder)
	if err != nil {
		return fmt.Errorf("reject document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrConcurrentModification
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO rejection_audit (document_id, by_user_id, by_name, reason, rejected_at)
		VALUES ($1,$2,$3,$4,$5)
	`, docID, audit.ByUserID, audit.ByName, audit.Reason, audit.At); err != nil {
		return fmt.Errorf("insert rejection audit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Resubmit returns a rejected document to draft and clears placements and
// comments from the first reviewer step onward.
func (r *DocumentRepository) Resubmit(ctx context.Context, docID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx, `
		UPDATE documents SET current_order=1, status=$1, updated_at=$2
		WHERE id=$3 AND current_order=$4
	`, approval.StatusDraft, time.Now().UTC(), docID, approval.RejectedOrder)
	if err != nil {
		return fmt.Errorf("resubmit document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrConcurrentModification
	}
	if _, err := tx.Exec(ctx, `
		UPDATE roster_entries SET page=NULL, pos_x=NULL, pos_y=NULL, comment=''
		WHERE document_id=$1 AND sign_order >= 2
	`, docID); err != nil {
		return fmt.Errorf("clear placements: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkAssigned flips the assignment flag once a task group is created.
func (r *DocumentRepository) MarkAssigned(ctx context.Context, docID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE documents SET is_assigned=TRUE, updated_at=$1 WHERE id=$2`,
		time.Now().UTC(), docID)
	if err != nil {
		return fmt.Errorf("mark assigned: %w", err)
	}
	return nil
}

// Rejections returns the audit trail for a document, oldest first.
func (r *DocumentRepository) Rejections(ctx context.Context, docID string) ([]approval.Rejection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT by_user_id, by_name, reason, rejected_at FROM rejection_audit
		WHERE document_id=$1 ORDER BY rejected_at ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	defer rows.Close()
	var out []approval.Rejection
	for rows.Next() {
		var rec approval.Rejection
		if err := rows.Scan(&rec.ByUserID, &rec.ByName, &rec.Reason, &rec.At); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *DocumentRepository) loadRoster(ctx context.Context, docID string) (*roster.Roster, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sign_order, role, user_id, page, pos_x, pos_y, comment
		FROM roster_entries WHERE document_id=$1 ORDER BY sign_order
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close()
	var entries []roster.Entry
	for rows.Next() {
		var (
			e    roster.Entry
			page *int
			x, y *float64
		)
		if err := rows.Scan(&e.Order, &e.Role, &e.UserID, &page, &x, &y, &e.Comment); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		if page != nil && x != nil && y != nil {
			e.Position = &roster.Position{Page: *page, X: *x, Y: *y}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roster.New(entries...)
}

func insertEntry(ctx context.Context, tx pgx.Tx, docID string, e roster.Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO roster_entries (document_id, sign_order, role, user_id, page, pos_x, pos_y, comment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, docID, e.Order, e.Role, e.UserID, pagePtr(e.Position), xPtr(e.Position), yPtr(e.Position), e.Comment)
	if err != nil {
		return fmt.Errorf("insert roster entry %d: %w", e.Order, err)
	}
	return nil
}

func pagePtr(p *roster.Position) *int {
	if p == nil {
		return nil
	}
	return &p.Page
}

func xPtr(p *roster.Position) *float64 {
	if p == nil {
		return nil
	}
	return &p.X
}

func yPtr(p *roster.Position) *float64 {
	if p == nil {
		return nil
	}
	return &p.Y
}
