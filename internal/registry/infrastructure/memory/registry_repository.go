package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	registry "purifier-cloud/internal/registry/domain"
)

// RegistryRepository is an in-memory timezone registry for demo/testing.
type RegistryRepository struct {
	mu      sync.Mutex
	entries map[string]*registry.Entry
}

// NewRegistryRepository constructs a repository.
func NewRegistryRepository() *RegistryRepository {
	return &RegistryRepository{
		entries: make(map[string]*registry.Entry),
	}
}

// AddMember lazily creates the zone entry and adds the device id.
func (r *RegistryRepository) AddMember(ctx context.Context, timezone, deviceID string) error {
	_ = ctx
	if timezone == "" || deviceID == "" {
		return errors.New("memory registry repo: empty member args")
	}

	zoneID := registry.SanitizeZoneID(timezone)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[zoneID]
	if !ok {
		entry = &registry.Entry{ZoneID: zoneID, Timezone: timezone}
		r.entries[zoneID] = entry
	}
	if entry.HasMember(deviceID) {
		return nil
	}
	entry.MemberDeviceIDs = append(entry.MemberDeviceIDs, deviceID)
	entry.MemberCount = len(entry.MemberDeviceIDs)
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveMember removes the device id, retaining the entry.
func (r *RegistryRepository) RemoveMember(ctx context.Context, timezone, deviceID string) error {
	_ = ctx
	if timezone == "" || deviceID == "" {
		return errors.New("memory registry repo: empty member args")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[registry.SanitizeZoneID(timezone)]
	if !ok {
		return registry.ErrEntryNotFound
	}
	members := entry.MemberDeviceIDs[:0]
	for _, id := range entry.MemberDeviceIDs {
		if id != deviceID {
			members = append(members, id)
		}
	}
	entry.MemberDeviceIDs = members
	entry.MemberCount = len(members)
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// MoveMember relocates a device between zones.
func (r *RegistryRepository) MoveMember(ctx context.Context, oldTimezone, newTimezone, deviceID string) error {
	if err := r.RemoveMember(ctx, oldTimezone, deviceID); err != nil {
		return err
	}
	return r.AddMember(ctx, newTimezone, deviceID)
}

// Get loads one entry by timezone.
func (r *RegistryRepository) Get(ctx context.Context, timezone string) (*registry.Entry, error) {
	_ = ctx
	if timezone == "" {
		return nil, errors.New("memory registry repo: empty timezone")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[registry.SanitizeZoneID(timezone)]
	if !ok {
		return nil, registry.ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

// List returns all entries ordered by zone id.
func (r *RegistryRepository) List(ctx context.Context) ([]registry.Entry, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]registry.Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, *copyEntry(entry))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ZoneID < result[j].ZoneID })
	return result, nil
}

// SetLastRunDate records the local calendar date of a completed run.
func (r *RegistryRepository) SetLastRunDate(ctx context.Context, timezone, date string) error {
	_ = ctx
	if timezone == "" || date == "" {
		return errors.New("memory registry repo: empty run date args")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[registry.SanitizeZoneID(timezone)]
	if !ok {
		return registry.ErrEntryNotFound
	}
	entry.LastRunDate = date
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func copyEntry(entry *registry.Entry) *registry.Entry {
	copied := *entry
	copied.MemberDeviceIDs = append([]string(nil), entry.MemberDeviceIDs...)
	return &copied
}
