package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worawit/docflow/internal/assignment"
)

// AssignmentRepository persists task groups and report links.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository constructs a repository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// CreateGroup inserts a whole task group in one transaction. The group is
// validated by the caller via assignment.ValidateGroup beforehand.
func (r *AssignmentRepository) CreateGroup(ctx context.Context, group []assignment.Assignment) error {
	now := time.Now().UTC()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, a := range group {
		_, err := tx.Exec(ctx, `
			INSERT INTO assignments (id, document_id, user_id, is_team_leader, is_reporter, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, a.ID, a.DocumentID, a.UserID, a.TeamLeader, a.Reporter, a.Status, now, now)
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a single assignment entry.
func (r *AssignmentRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, document_id, user_id, is_team_leader, is_reporter, status, note, report_document_id, completed_at
		FROM assignments WHERE id=$1
	`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select assignment: %w", err)
	}
	return a, nil
}

// Group returns every assignment entry for a document.
func (r *AssignmentRepository) Group(ctx context.Context, documentID string) ([]assignment.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, user_id, is_team_leader, is_reporter, status, note, report_document_id, completed_at
		FROM assignments WHERE document_id=$1 ORDER BY is_team_leader DESC, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []assignment.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Save persists the mutable fields of one entry.
func (r *AssignmentRepository) Save(ctx context.Context, a *assignment.Assignment) error {
	var report *string
	if a.ReportDocumentID != "" {
		report = &a.ReportDocumentID
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET is_reporter=$1, status=$2, note=$3, report_document_id=$4, completed_at=$5, updated_at=$6
		WHERE id=$7
	`, a.Reporter, a.Status, a.Note, report, a.CompletedAt, time.Now().UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignment %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// LinkReport records the first-class relation between a completed document
// and the report memo filed for it.
func (r *AssignmentRepository) LinkReport(ctx context.Context, link assignment.ReportLink) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report_links (original_document_id, report_document_id)
		VALUES ($1,$2) ON CONFLICT DO NOTHING
	`, link.OriginalDocumentID, link.ReportDocumentID)
	if err != nil {
		return fmt.Errorf("insert report link: %w", err)
	}
	return nil
}

// ReportLinks returns the report documents filed against a document.
func (r *AssignmentRepository) ReportLinks(ctx context.Context, originalDocumentID string) ([]assignment.ReportLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT original_document_id, report_document_id FROM report_links WHERE original_document_id=$1
	`, originalDocumentID)
	if err != nil {
		return nil, fmt.Errorf("list report links: %w", err)
	}
	defer rows.Close()
	var out []assignment.ReportLink
	for rows.Next() {
		var link assignment.ReportLink
		if err := rows.Scan(&link.OriginalDocumentID, &link.ReportDocumentID); err != nil {
			return nil, fmt.Errorf("scan report link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*assignment.Assignment, error) {
	var (
		a      assignment.Assignment
		report *string
	)
	if err := row.Scan(&a.ID, &a.DocumentID, &a.UserID, &a.TeamLeader, &a.Reporter, &a.Status,
		&a.Note, &report, &a.CompletedAt); err != nil {
		return nil, err
	}
	if report != nil {
		a.ReportDocumentID = *report
	}
	return &a, nil
}
