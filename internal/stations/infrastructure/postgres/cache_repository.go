package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stations "purifier-cloud/internal/stations/domain"
)

const defaultCacheTable = "station_cache"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CacheRepository is a Postgres implementation of the station cache.
type CacheRepository struct {
	db    DBTX
	table string
}

// NewCacheRepository constructs a repository.
func NewCacheRepository(db DBTX, opts ...CacheOption) *CacheRepository {
	repo := &CacheRepository{db: db, table: defaultCacheTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CacheOption configures the repository.
type CacheOption func(*CacheRepository)

// WithCacheTable overrides the default table name.
func WithCacheTable(table string) CacheOption {
	return func(repo *CacheRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads the cached reading for a station.
func (r *CacheRepository) Get(ctx context.Context, stationID string) (*stations.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station cache repo: nil db")
	}
	if stationID == "" {
		return nil, errors.New("station cache repo: empty station id")
	}

	query := fmt.Sprintf(`
SELECT station_id, city_name, timezone_offset, aqi, pollutants, temperature, fetched_at
FROM %s
WHERE station_id = $1
LIMIT 1`, r.table)

	var reading stations.Reading
	var pollutants []byte
	if err := r.db.QueryRowContext(ctx, query, stationID).Scan(
		&reading.StationID,
		&reading.CityName,
		&reading.TimezoneOffset,
		&reading.AQI,
		&pollutants,
		&reading.Temperature,
		&reading.FetchedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stations.ErrCacheMiss
		}
		return nil, err
	}
	if len(pollutants) > 0 {
		if err := json.Unmarshal(pollutants, &reading.Pollutants); err != nil {
			return nil, err
		}
	}
	reading.FetchedAt = reading.FetchedAt.UTC()
	return &reading, nil
}

// Put fully replaces the entry for the reading's station id.
func (r *CacheRepository) Put(ctx context.Context, reading *stations.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("station cache repo: nil db")
	}
	if reading == nil {
		return errors.New("station cache repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	pollutants, err := json.Marshal(reading.Pollutants)
	if err != nil {
		return err
	}
	fetchedAt := reading.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	station_id,
	city_name,
	timezone_offset,
	aqi,
	pollutants,
	temperature,
	fetched_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (station_id)
DO UPDATE SET
	city_name = EXCLUDED.city_name,
	timezone_offset = EXCLUDED.timezone_offset,
	aqi = EXCLUDED.aqi,
	pollutants = EXCLUDED.pollutants,
	temperature = EXCLUDED.temperature,
	fetched_at = EXCLUDED.fetched_at`, r.table)

	_, err = r.db.ExecContext(
		ctx,
		query,
		reading.StationID,
		reading.CityName,
		reading.TimezoneOffset,
		reading.AQI,
		pollutants,
		reading.Temperature,
		fetchedAt.UTC(),
	)
	return err
}
