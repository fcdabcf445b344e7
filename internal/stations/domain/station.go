package stations

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when no reading is cached for the station.
	ErrCacheMiss = errors.New("stations: cache miss")
)

// Reading is the most recent provider snapshot for one station.
// Pollutants is an opaque payload for downstream display logic; this
// core only interprets StationID and TimezoneOffset.
type Reading struct {
	StationID      string
	CityName       string
	TimezoneOffset string
	AQI            float64
	Pollutants     map[string]float64
	Temperature    float64
	FetchedAt      time.Time
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.StationID == "" {
		return errors.New("stations: empty station id")
	}
	return nil
}

// Cache stores the latest reading per station id. Put always replaces
// the whole entry; partial-field merges would let mixed-age data
// coexist within one entry.
type Cache interface {
	Get(ctx context.Context, stationID string) (*Reading, error)
	Put(ctx context.Context, reading *Reading) error
}
