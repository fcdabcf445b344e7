package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"purifier-cloud/internal/audit"
	devices "purifier-cloud/internal/devices/domain"
	"purifier-cloud/internal/eventing"
	ledger "purifier-cloud/internal/ledger/domain"
	"purifier-cloud/internal/observability/metrics"
	"purifier-cloud/internal/registration/application/events"
	registry "purifier-cloud/internal/registry/domain"
	stations "purifier-cloud/internal/stations/domain"
)

var (
	// ErrValidation is returned for malformed required fields. Malformed
	// geo is not in this category; it degrades instead.
	ErrValidation = errors.New("registration: invalid request")
	// ErrForbidden is returned when the caller does not own the device.
	ErrForbidden = errors.New("registration: forbidden")
)

// StationProvider resolves a geographic point to its nearest station
// reading. It is a soft dependency: any error degrades the
// registration to the UTC bucket without failing it.
type StationProvider interface {
	Nearest(ctx context.Context, lat, lon float64) (*stations.Reading, error)
}

// Service orchestrates the registration workflow: atomic claim, station
// lookup, cache write, record creation and registry grouping.
type Service struct {
	ledger   ledger.Ledger
	records  devices.Repository
	registry registry.Registry
	cache    stations.Cache
	provider StationProvider
	bus      eventing.Bus
	auditor  audit.Logger
	logger   *log.Logger
}

// NewService constructs a registration service.
func NewService(dl ledger.Ledger, records devices.Repository, reg registry.Registry, cache stations.Cache, provider StationProvider, opts ...ServiceOption) (*Service, error) {
	if dl == nil {
		return nil, errors.New("registration: nil ledger")
	}
	if records == nil {
		return nil, errors.New("registration: nil record store")
	}
	if reg == nil {
		return nil, errors.New("registration: nil registry")
	}
	if cache == nil {
		return nil, errors.New("registration: nil station cache")
	}
	service := &Service{
		ledger:   dl,
		records:  records,
		registry: reg,
		cache:    cache,
		provider: provider,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithBus publishes lifecycle events on the given bus.
func WithBus(bus eventing.Bus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// WithAudit records register/unregister actions.
func WithAudit(logger audit.Logger) ServiceOption {
	return func(s *Service) { s.auditor = logger }
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// Register claims the device for the user and creates its record.
//
// The claim runs first and its failure aborts with no side effects.
// After a successful claim the remaining steps run on a context
// detached from caller cancellation, so a claim is never left without
// a device record.
func (s *Service) Register(ctx context.Context, userID, deviceID, label string, geo *devices.Geo) (*devices.DeviceRecord, error) {
	started := time.Now()
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrValidation)
	}

	if err := s.ledger.Claim(ctx, deviceID, userID); err != nil {
		if errors.Is(err, ledger.ErrAlreadyClaimed) {
			metrics.IncClaimConflict()
			metrics.ObserveRegistration(metrics.ResultConflict, time.Since(started))
		} else {
			metrics.ObserveRegistration(metrics.ResultError, time.Since(started))
		}
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	timezone, stationRef, degraded := s.resolveStation(ctx, geo)

	record := &devices.DeviceRecord{
		DeviceID:   deviceID,
		OwnerID:    userID,
		Label:      label,
		Timezone:   timezone,
		StationRef: stationRef,
		Settings:   devices.DefaultSettings(),
	}
	if geo != nil && geo.Valid() {
		copied := *geo
		record.Geo = &copied
	}

	if err := s.records.Save(ctx, record); err != nil {
		// A claim must never exist without a record.
		if releaseErr := s.ledger.Release(ctx, deviceID); releaseErr != nil {
			s.logf("register: release after failed save: device=%s err=%v", deviceID, releaseErr)
		}
		metrics.ObserveRegistration(metrics.ResultError, time.Since(started))
		return nil, err
	}

	// Idempotent; a failure leaves the device claimed but ungrouped,
	// which the next registration pass or a manual re-add repairs.
	if err := s.registry.AddMember(ctx, timezone, deviceID); err != nil {
		s.logf("register: registry add failed: device=%s timezone=%s err=%v", deviceID, timezone, err)
	}

	s.audit(ctx, userID, "device.register", deviceID, map[string]string{
		"timezone":    timezone,
		"station_ref": stationRef,
	})
	s.publish(ctx, events.DeviceRegistered{
		DeviceID:   deviceID,
		OwnerID:    userID,
		Timezone:   timezone,
		StationRef: stationRef,
		At:         time.Now().UTC(),
	})

	result := metrics.ResultSuccess
	if degraded {
		result = metrics.ResultDegraded
	}
	metrics.ObserveRegistration(result, time.Since(started))
	return record, nil
}

// resolveStation returns (timezone, stationRef, degraded). Invalid or
// absent geo and every provider failure resolve to the UTC bucket.
func (s *Service) resolveStation(ctx context.Context, geo *devices.Geo) (string, string, bool) {
	if geo == nil || !geo.Valid() {
		return registry.FallbackTimezone, "", false
	}
	if s.provider == nil {
		return registry.FallbackTimezone, "", true
	}

	started := time.Now()
	reading, err := s.provider.Nearest(ctx, geo.Lat, geo.Lon)
	if err != nil {
		metrics.ObserveProviderCall(metrics.ResultError, time.Since(started))
		s.logf("register: provider lookup failed, degrading to UTC: err=%v", err)
		return registry.FallbackTimezone, "", true
	}
	metrics.ObserveProviderCall(metrics.ResultSuccess, time.Since(started))

	if err := s.cache.Put(ctx, reading); err != nil {
		s.logf("register: station cache put failed: station=%s err=%v", reading.StationID, err)
	}

	timezone := reading.TimezoneOffset
	if timezone == "" {
		timezone = registry.FallbackTimezone
	}
	return timezone, reading.StationID, false
}

// Unregister verifies ownership, then removes the device from its zone
// before releasing the ledger claim, so a concurrent scheduler pass
// never sees a registry member whose claim is already released.
func (s *Service) Unregister(ctx context.Context, userID, deviceID string) error {
	if userID == "" || deviceID == "" {
		return fmt.Errorf("%w: empty user or device id", ErrValidation)
	}

	record, err := s.records.Get(ctx, deviceID)
	if err != nil {
		metrics.IncUnregistration(metrics.ResultError)
		return err
	}
	if record.OwnerID != userID {
		metrics.IncUnregistration(metrics.ResultError)
		return fmt.Errorf("%w: device %s is not owned by caller", ErrForbidden, deviceID)
	}

	ctx = context.WithoutCancel(ctx)

	if err := s.registry.RemoveMember(ctx, record.Timezone, deviceID); err != nil && !errors.Is(err, registry.ErrEntryNotFound) {
		metrics.IncUnregistration(metrics.ResultError)
		return err
	}
	if err := s.ledger.Release(ctx, deviceID); err != nil && !errors.Is(err, ledger.ErrNotClaimed) {
		metrics.IncUnregistration(metrics.ResultError)
		return err
	}
	if err := s.records.Delete(ctx, deviceID); err != nil {
		metrics.IncUnregistration(metrics.ResultError)
		return err
	}

	s.audit(ctx, userID, "device.unregister", deviceID, nil)
	s.publish(ctx, events.DeviceUnregistered{
		DeviceID: deviceID,
		OwnerID:  userID,
		At:       time.Now().UTC(),
	})
	metrics.IncUnregistration(metrics.ResultSuccess)
	return nil
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logf("registration: event publish failed: %v", err)
	}
}

func (s *Service) audit(ctx context.Context, actor, action, deviceID string, metadata map[string]string) {
	if s.auditor == nil {
		return
	}
	var payload json.RawMessage
	if len(metadata) > 0 {
		payload, _ = json.Marshal(metadata)
	}
	entry := audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "device",
		ResourceID:   deviceID,
		Metadata:     payload,
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logf("registration: audit log failed: %v", err)
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
