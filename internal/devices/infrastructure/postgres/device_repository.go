package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "purifier-cloud/internal/devices/domain"
)

const defaultRecordsTable = "device_records"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation of the record store.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultRecordsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a device record by id.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*devices.DeviceRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("device repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT device_id, owner_id, label, lat, lon, timezone, station_ref,
	auto_mode, fan_speed, sensitivity, online, last_seen_at,
	created_at, updated_at
FROM %s
WHERE device_id = $1
LIMIT 1`, r.table)

	var record devices.DeviceRecord
	var lat, lon sql.NullFloat64
	var stationRef sql.NullString
	var lastSeen sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&record.DeviceID,
		&record.OwnerID,
		&record.Label,
		&lat,
		&lon,
		&record.Timezone,
		&stationRef,
		&record.Settings.AutoMode,
		&record.Settings.FanSpeed,
		&record.Settings.Sensitivity,
		&record.Status.Online,
		&lastSeen,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, devices.ErrNotFound
		}
		return nil, err
	}
	if lat.Valid && lon.Valid {
		record.Geo = &devices.Geo{Lat: lat.Float64, Lon: lon.Float64}
	}
	record.StationRef = stationRef.String
	if lastSeen.Valid {
		record.Status.LastSeenAt = lastSeen.Time.UTC()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

// Save upserts a device record.
func (r *DeviceRepository) Save(ctx context.Context, record *devices.DeviceRecord) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if record == nil {
		return errors.New("device repo: nil record")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	owner_id,
	label,
	lat,
	lon,
	timezone,
	station_ref,
	auto_mode,
	fan_speed,
	sensitivity,
	online,
	last_seen_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (device_id)
DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	label = EXCLUDED.label,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	timezone = EXCLUDED.timezone,
	station_ref = EXCLUDED.station_ref,
	auto_mode = EXCLUDED.auto_mode,
	fan_speed = EXCLUDED.fan_speed,
	sensitivity = EXCLUDED.sensitivity,
	online = EXCLUDED.online,
	last_seen_at = EXCLUDED.last_seen_at,
	updated_at = NOW()`, r.table)

	var lat, lon any
	if record.Geo != nil {
		lat, lon = record.Geo.Lat, record.Geo.Lon
	}
	var lastSeen any
	if !record.Status.LastSeenAt.IsZero() {
		lastSeen = record.Status.LastSeenAt.UTC()
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		record.DeviceID,
		record.OwnerID,
		record.Label,
		lat,
		lon,
		record.Timezone,
		record.StationRef,
		record.Settings.AutoMode,
		record.Settings.FanSpeed,
		record.Settings.Sensitivity,
		record.Status.Online,
		lastSeen,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return nil
}

// Delete removes a device record.
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return errors.New("device repo: empty device id")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, deviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}

// UpdateStatus touches connectivity state.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, deviceID string, online bool, lastSeen time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return errors.New("device repo: empty device id")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET online = $2, last_seen_at = $3, updated_at = NOW()
WHERE device_id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, deviceID, online, lastSeen.UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}
