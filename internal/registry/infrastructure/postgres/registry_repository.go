package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	registry "purifier-cloud/internal/registry/domain"
)

const defaultRegistryTable = "timezone_registry"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RegistryRepository is a Postgres implementation of the timezone
// registry. Every membership operation is a single statement, so
// per-entry atomicity comes from row-level atomicity.
type RegistryRepository struct {
	db    DBTX
	table string
}

// NewRegistryRepository constructs a repository.
func NewRegistryRepository(db DBTX, opts ...RegistryOption) *RegistryRepository {
	repo := &RegistryRepository{db: db, table: defaultRegistryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RegistryOption configures the repository.
type RegistryOption func(*RegistryRepository)

// WithRegistryTable overrides the default table name.
func WithRegistryTable(table string) RegistryOption {
	return func(repo *RegistryRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// AddMember lazily creates the zone entry and adds the device id.
// Idempotent: adding a present id leaves members and count unchanged.
func (r *RegistryRepository) AddMember(ctx context.Context, timezone, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("registry repo: nil db")
	}
	if timezone == "" || deviceID == "" {
		return errors.New("registry repo: empty member args")
	}

	zoneID := registry.SanitizeZoneID(timezone)
	query := fmt.Sprintf(`
INSERT INTO %s (zone_id, timezone, member_device_ids, member_count)
VALUES ($1, $2, ARRAY[$3]::text[], 1)
ON CONFLICT (zone_id)
DO UPDATE SET
	member_device_ids = CASE
		WHEN $3 = ANY(%[1]s.member_device_ids) THEN %[1]s.member_device_ids
		ELSE array_append(%[1]s.member_device_ids, $3)
	END,
	member_count = CASE
		WHEN $3 = ANY(%[1]s.member_device_ids) THEN %[1]s.member_count
		ELSE %[1]s.member_count + 1
	END,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(ctx, query, zoneID, timezone, deviceID)
	return err
}

// RemoveMember removes the device id. The entry is retained at zero
// members so LastRunDate stays available for audit.
func (r *RegistryRepository) RemoveMember(ctx context.Context, timezone, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("registry repo: nil db")
	}
	if timezone == "" || deviceID == "" {
		return errors.New("registry repo: empty member args")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET member_device_ids = array_remove(member_device_ids, $2),
	member_count = cardinality(array_remove(member_device_ids, $2)),
	updated_at = NOW()
WHERE zone_id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, registry.SanitizeZoneID(timezone), deviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return registry.ErrEntryNotFound
	}
	return nil
}

// MoveMember relocates a device between zones. A crash between the two
// steps leaves the device temporarily unscheduled, never duplicated.
func (r *RegistryRepository) MoveMember(ctx context.Context, oldTimezone, newTimezone, deviceID string) error {
	if err := r.RemoveMember(ctx, oldTimezone, deviceID); err != nil {
		return err
	}
	return r.AddMember(ctx, newTimezone, deviceID)
}

// Get loads one entry by timezone.
func (r *RegistryRepository) Get(ctx context.Context, timezone string) (*registry.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("registry repo: nil db")
	}
	if timezone == "" {
		return nil, errors.New("registry repo: empty timezone")
	}

	query := fmt.Sprintf(`
SELECT zone_id, timezone, member_device_ids, member_count, last_run_date, updated_at
FROM %s
WHERE zone_id = $1
LIMIT 1`, r.table)

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, registry.SanitizeZoneID(timezone)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// List returns all entries ordered by zone id.
func (r *RegistryRepository) List(ctx context.Context) ([]registry.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("registry repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT zone_id, timezone, member_device_ids, member_count, last_run_date, updated_at
FROM %s
ORDER BY zone_id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []registry.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetLastRunDate records the local calendar date of a completed run.
func (r *RegistryRepository) SetLastRunDate(ctx context.Context, timezone, date string) error {
	if r == nil || r.db == nil {
		return errors.New("registry repo: nil db")
	}
	if timezone == "" || date == "" {
		return errors.New("registry repo: empty run date args")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET last_run_date = $2, updated_at = NOW()
WHERE zone_id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, registry.SanitizeZoneID(timezone), date)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return registry.ErrEntryNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*registry.Entry, error) {
	var entry registry.Entry
	var members pgTextArray
	var lastRun sql.NullString
	if err := row.Scan(
		&entry.ZoneID,
		&entry.Timezone,
		&members,
		&entry.MemberCount,
		&lastRun,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.MemberDeviceIDs = members
	entry.LastRunDate = lastRun.String
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}
