package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the device id is unknown to the ledger.
	ErrNotFound = errors.New("ledger: device not found")
	// ErrAlreadyClaimed is returned when the device is already owned.
	ErrAlreadyClaimed = errors.New("ledger: device already claimed")
	// ErrNotClaimed is returned when releasing an unclaimed device.
	ErrNotClaimed = errors.New("ledger: device not claimed")
)

// Entry is the claim state for one manufactured device id.
// Invariant: ClaimedAt == nil exactly when ClaimedByUserID == "".
type Entry struct {
	DeviceID        string
	ClaimedAt       *time.Time
	ClaimedByUserID string
}

// Claimed reports whether the entry is currently owned.
func (e Entry) Claimed() bool {
	return e.ClaimedAt != nil
}

// Validate checks entry invariants.
func (e Entry) Validate() error {
	if e.DeviceID == "" {
		return errors.New("ledger: empty device id")
	}
	if (e.ClaimedAt == nil) != (e.ClaimedByUserID == "") {
		return errors.New("ledger: inconsistent claim state")
	}
	return nil
}

// Ledger manages claim state for manufactured device ids.
//
// Claim is the one operation in the system that needs compare-and-set
// semantics: two concurrent claims for the same unclaimed device must
// yield exactly one success and one ErrAlreadyClaimed.
type Ledger interface {
	// Add registers a manufactured device id as unclaimed. Adding an
	// existing id is a no-op.
	Add(ctx context.Context, deviceID string) error
	// Get loads the entry, or ErrNotFound.
	Get(ctx context.Context, deviceID string) (*Entry, error)
	// Claim transitions (nil, "") -> (now, userID) atomically.
	Claim(ctx context.Context, deviceID, userID string) error
	// Release transitions back to (nil, "").
	Release(ctx context.Context, deviceID string) error
}
