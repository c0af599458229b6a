package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Keeping the migration in code
// keeps the stack self-contained so docker-compose can bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	doc_type TEXT NOT NULL,
	subject TEXT NOT NULL,
	author_id TEXT NOT NULL,
	current_order INT NOT NULL,
	status TEXT NOT NULL,
	object_key TEXT NOT NULL,
	revision INT NOT NULL DEFAULT 0,
	is_assigned BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_author ON documents(author_id);

CREATE TABLE IF NOT EXISTS roster_entries (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	sign_order INT NOT NULL,
	role TEXT NOT NULL,
	user_id TEXT NOT NULL,
	page INT,
	pos_x DOUBLE PRECISION,
	pos_y DOUBLE PRECISION,
	comment TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, sign_order)
);

CREATE TABLE IF NOT EXISTS rejection_audit (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	by_user_id TEXT NOT NULL,
	by_name TEXT NOT NULL,
	reason TEXT NOT NULL,
	rejected_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejection_audit_document ON rejection_audit(document_id);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	is_team_leader BOOLEAN NOT NULL DEFAULT FALSE,
	is_reporter BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	report_document_id TEXT,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_document ON assignments(document_id);

CREATE TABLE IF NOT EXISTS report_links (
	original_document_id TEXT NOT NULL,
	report_document_id TEXT NOT NULL,
	PRIMARY KEY (original_document_id, report_document_id)
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
