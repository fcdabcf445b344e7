package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FallbackTimezone buckets devices without a resolvable timezone.
const FallbackTimezone = "UTC"

// DateLayout is the calendar-date form stored in LastRunDate.
const DateLayout = "2006-01-02"

var (
	// ErrEntryNotFound is returned when the zone entry does not exist.
	ErrEntryNotFound = errors.New("registry: entry not found")
	// ErrInvalidTimezone is returned for timezones that resolve to no location.
	ErrInvalidTimezone = errors.New("registry: invalid timezone")
)

// Entry aggregates the devices of one distinct timezone together with
// the local calendar date of the last completed scheduled run.
// Entries are retained even at zero members.
type Entry struct {
	ZoneID          string
	Timezone        string
	MemberDeviceIDs []string
	MemberCount     int
	LastRunDate     string
	UpdatedAt       time.Time
}

// HasMember reports whether the device id is a member of this entry.
func (e Entry) HasMember(deviceID string) bool {
	for _, id := range e.MemberDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Registry groups devices by timezone so the midnight scheduler scans
// O(distinct timezones) instead of O(devices). A device id appears in
// at most one entry system-wide; the registration workflow is the only
// writer of memberships.
type Registry interface {
	// AddMember creates the entry lazily and adds the device id; adding
	// an already-present id is a no-op.
	AddMember(ctx context.Context, timezone, deviceID string) error
	// RemoveMember removes the device id; the entry is retained even at
	// zero members.
	RemoveMember(ctx context.Context, timezone, deviceID string) error
	// MoveMember relocates a device between zones. Composed of
	// remove-then-add; not cross-entry atomic.
	MoveMember(ctx context.Context, oldTimezone, newTimezone, deviceID string) error
	// Get loads one entry by timezone, or ErrEntryNotFound.
	Get(ctx context.Context, timezone string) (*Entry, error)
	// List returns all entries.
	List(ctx context.Context) ([]Entry, error)
	// SetLastRunDate records the local calendar date of a completed run.
	SetLastRunDate(ctx context.Context, timezone, date string) error
}

// SanitizeZoneID derives a storage-safe key from a raw timezone string.
// The mapping is stable and reversible: IANA separators become double
// underscores, which never occur in IANA names themselves.
func SanitizeZoneID(timezone string) string {
	return strings.ReplaceAll(timezone, "/", "__")
}

// ZoneIDTimezone reverses SanitizeZoneID.
func ZoneIDTimezone(zoneID string) string {
	return strings.ReplaceAll(zoneID, "__", "/")
}

// Location resolves a timezone string to a *time.Location. Accepted
// forms: "UTC", IANA names ("Asia/Seoul"), and fixed UTC offsets as
// reported by the station provider ("+09:00", "-05:30").
func Location(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == FallbackTimezone {
		return time.UTC, nil
	}
	if strings.HasPrefix(timezone, "+") || strings.HasPrefix(timezone, "-") {
		return fixedOffsetLocation(timezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return loc, nil
}

func fixedOffsetLocation(offset string) (*time.Location, error) {
	sign := 1
	if offset[0] == '-' {
		sign = -1
	}
	parts := strings.SplitN(offset[1:], ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, offset)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 14 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, offset)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, offset)
	}
	seconds := sign * (hours*3600 + minutes*60)
	return time.FixedZone(offset, seconds), nil
}
