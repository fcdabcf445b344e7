package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ledger "purifier-cloud/internal/ledger/domain"
)

const defaultLedgerTable = "device_ledger"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LedgerRepository is a Postgres implementation of the device ledger.
type LedgerRepository struct {
	db    DBTX
	table string
}

// NewLedgerRepository constructs a repository.
func NewLedgerRepository(db DBTX, opts ...LedgerOption) *LedgerRepository {
	repo := &LedgerRepository{db: db, table: defaultLedgerTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// LedgerOption configures the repository.
type LedgerOption func(*LedgerRepository)

// WithLedgerTable overrides the default table name.
func WithLedgerTable(table string) LedgerOption {
	return func(repo *LedgerRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Add registers a manufactured device id as unclaimed.
func (r *LedgerRepository) Add(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if deviceID == "" {
		return errors.New("ledger repo: empty device id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id)
VALUES ($1)
ON CONFLICT (device_id) DO NOTHING`, r.table)

	_, err := r.db.ExecContext(ctx, query, deviceID)
	return err
}

// Get loads a ledger entry by device id.
func (r *LedgerRepository) Get(ctx context.Context, deviceID string) (*ledger.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("ledger repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT device_id, claimed_at, claimed_by_user_id
FROM %s
WHERE device_id = $1
LIMIT 1`, r.table)

	var entry ledger.Entry
	var claimedAt sql.NullTime
	var claimedBy sql.NullString
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&entry.DeviceID,
		&claimedAt,
		&claimedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	if claimedAt.Valid {
		ts := claimedAt.Time.UTC()
		entry.ClaimedAt = &ts
	}
	entry.ClaimedByUserID = claimedBy.String
	return &entry, nil
}

// Claim performs the atomic claim transition. The conditional UPDATE is
// the compare-and-set: it only matches the row while it is unclaimed,
// so one of two concurrent claims sees zero rows affected.
func (r *LedgerRepository) Claim(ctx context.Context, deviceID, userID string) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if deviceID == "" || userID == "" {
		return errors.New("ledger repo: empty claim args")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET claimed_at = $2, claimed_by_user_id = $3
WHERE device_id = $1 AND claimed_by_user_id IS NULL`, r.table)

	result, err := r.db.ExecContext(ctx, query, deviceID, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	entry, err := r.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if entry.Claimed() {
		return ledger.ErrAlreadyClaimed
	}
	return ledger.ErrNotFound
}

// Release resets the entry to unclaimed.
func (r *LedgerRepository) Release(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if deviceID == "" {
		return errors.New("ledger repo: empty device id")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET claimed_at = NULL, claimed_by_user_id = NULL
WHERE device_id = $1 AND claimed_by_user_id IS NOT NULL`, r.table)

	result, err := r.db.ExecContext(ctx, query, deviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	if _, err := r.Get(ctx, deviceID); err != nil {
		return err
	}
	return ledger.ErrNotClaimed
}
