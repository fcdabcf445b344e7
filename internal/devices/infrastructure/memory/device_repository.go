package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	devices "purifier-cloud/internal/devices/domain"
)

// DeviceRepository is an in-memory record store for demo/testing.
type DeviceRepository struct {
	mu      sync.RWMutex
	records map[string]*devices.DeviceRecord
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{
		records: make(map[string]*devices.DeviceRecord),
	}
}

// Get loads a device record by id.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*devices.DeviceRecord, error) {
	_ = ctx
	if deviceID == "" {
		return nil, errors.New("memory device repo: empty device id")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[deviceID]
	if !ok {
		return nil, devices.ErrNotFound
	}
	copied := *record
	if record.Geo != nil {
		geo := *record.Geo
		copied.Geo = &geo
	}
	return &copied, nil
}

// Save upserts a device record.
func (r *DeviceRepository) Save(ctx context.Context, record *devices.DeviceRecord) error {
	_ = ctx
	if record == nil {
		return errors.New("memory device repo: nil record")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	copied := *record
	if record.Geo != nil {
		geo := *record.Geo
		copied.Geo = &geo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.DeviceID] = &copied
	return nil
}

// Delete removes a device record.
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) error {
	_ = ctx
	if deviceID == "" {
		return errors.New("memory device repo: empty device id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[deviceID]; !ok {
		return devices.ErrNotFound
	}
	delete(r.records, deviceID)
	return nil
}

// UpdateStatus touches connectivity state.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, deviceID string, online bool, lastSeen time.Time) error {
	_ = ctx
	if deviceID == "" {
		return errors.New("memory device repo: empty device id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[deviceID]
	if !ok {
		return devices.ErrNotFound
	}
	record.Status.Online = online
	record.Status.LastSeenAt = lastSeen.UTC()
	record.UpdatedAt = time.Now().UTC()
	return nil
}
