package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	stations "purifier-cloud/internal/stations/domain"
)

// CacheRepository is an in-memory station cache for demo/testing.
type CacheRepository struct {
	mu       sync.RWMutex
	readings map[string]*stations.Reading
}

// NewCacheRepository constructs a repository.
func NewCacheRepository() *CacheRepository {
	return &CacheRepository{
		readings: make(map[string]*stations.Reading),
	}
}

// Get loads the cached reading for a station.
func (r *CacheRepository) Get(ctx context.Context, stationID string) (*stations.Reading, error) {
	_ = ctx
	if stationID == "" {
		return nil, errors.New("memory station cache: empty station id")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	reading, ok := r.readings[stationID]
	if !ok {
		return nil, stations.ErrCacheMiss
	}
	return copyReading(reading), nil
}

// Put fully replaces the entry for the reading's station id.
func (r *CacheRepository) Put(ctx context.Context, reading *stations.Reading) error {
	_ = ctx
	if reading == nil {
		return errors.New("memory station cache: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	copied := copyReading(reading)
	if copied.FetchedAt.IsZero() {
		copied.FetchedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings[reading.StationID] = copied
	return nil
}

func copyReading(reading *stations.Reading) *stations.Reading {
	copied := *reading
	if reading.Pollutants != nil {
		copied.Pollutants = make(map[string]float64, len(reading.Pollutants))
		for k, v := range reading.Pollutants {
			copied.Pollutants[k] = v
		}
	}
	return &copied
}
