package devices

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"

	// MaxFanSpeed is the top fan speed step supported by the purifier.
	MaxFanSpeed = 10
)

var (
	// ErrNotFound is returned when no record exists for the device id.
	ErrNotFound = errors.New("devices: record not found")
)

// Geo is a registered device location.
type Geo struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinates are finite and in range.
// Malformed geo is treated as absent, never as a registration error.
func (g Geo) Valid() bool {
	if math.IsNaN(g.Lat) || math.IsInf(g.Lat, 0) || math.IsNaN(g.Lon) || math.IsInf(g.Lon, 0) {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180
}

// Settings are the controllable purifier settings.
type Settings struct {
	AutoMode    bool
	FanSpeed    int
	Sensitivity string
}

// DefaultSettings returns factory settings for a fresh registration.
func DefaultSettings() Settings {
	return Settings{AutoMode: false, FanSpeed: 0, Sensitivity: SensitivityMedium}
}

// Validate checks settings ranges.
func (s Settings) Validate() error {
	if s.FanSpeed < 0 || s.FanSpeed > MaxFanSpeed {
		return errors.New("devices: fan speed out of range")
	}
	switch s.Sensitivity {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return nil
	default:
		return errors.New("devices: invalid sensitivity")
	}
}

// Status is the reported connectivity state.
type Status struct {
	Online     bool
	LastSeenAt time.Time
}

// DeviceRecord is the per-claimed-device document. Timezone and
// StationRef are resolved once at registration.
type DeviceRecord struct {
	DeviceID   string
	OwnerID    string
	Label      string
	Geo        *Geo
	Timezone   string
	StationRef string
	Settings   Settings
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks record invariants.
func (d DeviceRecord) Validate() error {
	if d.DeviceID == "" {
		return errors.New("devices: empty device id")
	}
	if d.OwnerID == "" {
		return errors.New("devices: empty owner id")
	}
	if d.Timezone == "" {
		return errors.New("devices: empty timezone")
	}
	return d.Settings.Validate()
}

// Repository manages device record persistence.
type Repository interface {
	Get(ctx context.Context, deviceID string) (*DeviceRecord, error)
	Save(ctx context.Context, record *DeviceRecord) error
	Delete(ctx context.Context, deviceID string) error
	// UpdateStatus touches connectivity state without rewriting the record.
	UpdateStatus(ctx context.Context, deviceID string, online bool, lastSeen time.Time) error
}
