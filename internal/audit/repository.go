package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultAuditTable = "audit_log"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository appends audit entries to Postgres. Entries are immutable;
// there is no update or delete surface.
type Repository struct {
	db    DBTX
	table string
}

// NewRepository constructs an audit repository.
func NewRepository(db DBTX, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultAuditTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithAuditTable overrides the default table name.
func WithAuditTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Log appends an entry, filling id, timestamp and digest when absent.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, actor, action, resource_type, resource_id, metadata, payload_digest, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}
