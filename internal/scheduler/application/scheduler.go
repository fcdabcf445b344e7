package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	devices "purifier-cloud/internal/devices/domain"
	"purifier-cloud/internal/eventing"
	"purifier-cloud/internal/observability/metrics"
	registry "purifier-cloud/internal/registry/domain"
	"purifier-cloud/internal/scheduler/application/events"
)

// Dispatcher performs the once-daily per-device task. Implementations
// must be idempotent for a given device and local date: a crash before
// the date guard updates re-dispatches the whole zone on the next tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, record *devices.DeviceRecord, localDate string) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, record *devices.DeviceRecord, localDate string) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, record *devices.DeviceRecord, localDate string) error {
	return f(ctx, record, localDate)
}

// Summary reports one scan-and-dispatch pass.
type Summary struct {
	ZonesScanned     int
	ZonesTriggered   int
	DevicesProcessed int
	Errors           []string
}

// Scheduler scans the timezone registry and dispatches per-device work
// for zones currently inside their local midnight window. Each pass
// reads O(distinct timezones) registry entries; device records are only
// loaded for zones that actually trigger.
type Scheduler struct {
	registry   registry.Registry
	records    devices.Repository
	dispatcher Dispatcher
	cfg        Config
	bus        eventing.Bus
	logger     *log.Logger
	now        func() time.Time
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithBus publishes ZoneTriggered events on the given bus.
func WithBus(bus eventing.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler constructs a Scheduler.
func NewScheduler(reg registry.Registry, records devices.Repository, dispatcher Dispatcher, cfg Config, opts ...SchedulerOption) (*Scheduler, error) {
	if reg == nil {
		return nil, errors.New("scheduler: nil registry")
	}
	if records == nil {
		return nil, errors.New("scheduler: nil record store")
	}
	if dispatcher == nil {
		return nil, errors.New("scheduler: nil dispatcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		registry:   reg,
		records:    records,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs scan passes at the configured tick interval until the
// context is canceled. A zone whose window elapses entirely while the
// process is down is skipped for that day; there is no backfill.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := s.RunOnce(ctx, s.now().UTC())
			if err != nil {
				s.logf("scheduler: pass failed: %v", err)
				continue
			}
			if summary.ZonesTriggered > 0 || len(summary.Errors) > 0 {
				s.logf("scheduler: pass done: triggered=%d processed=%d errors=%d",
					summary.ZonesTriggered, summary.DevicesProcessed, len(summary.Errors))
			}
		}
	}
}

// RunOnce performs one full scan-and-dispatch pass against the given
// instant. Per-device errors are aggregated into the summary and never
// abort a zone; the date guard is written only after every member
// dispatch has been attempted.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (Summary, error) {
	var summary Summary

	entries, err := s.registry.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("scheduler: list registry: %w", err)
	}
	summary.ZonesScanned = len(entries)

	for _, entry := range entries {
		loc, err := registry.Location(entry.Timezone)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("zone %s: %v", entry.Timezone, err))
			continue
		}

		nowLocal := now.In(loc)
		if !s.inWindow(nowLocal) {
			continue
		}
		localDate := nowLocal.Format(registry.DateLayout)
		if entry.LastRunDate == localDate {
			continue
		}

		processed, errs := s.dispatchZone(ctx, entry, localDate)
		summary.ZonesTriggered++
		summary.DevicesProcessed += processed
		summary.Errors = append(summary.Errors, errs...)

		if err := s.registry.SetLastRunDate(ctx, entry.Timezone, localDate); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("zone %s: set last run date: %v", entry.Timezone, err))
		}

		s.publish(ctx, events.ZoneTriggered{
			Timezone:    entry.Timezone,
			LocalDate:   localDate,
			MemberCount: len(entry.MemberDeviceIDs),
			Errors:      len(errs),
			At:          now.UTC(),
		})
	}

	metrics.ObserveSchedulerPass(summary.ZonesScanned, summary.ZonesTriggered, summary.DevicesProcessed, len(summary.Errors))
	return summary, nil
}

// inWindow reports whether the local time falls inside
// [midnight-w/2, midnight+w/2).
func (s *Scheduler) inWindow(nowLocal time.Time) bool {
	half := s.cfg.WindowMinutes / 2
	minuteOfDay := nowLocal.Hour()*60 + nowLocal.Minute()
	return minuteOfDay >= 24*60-half || minuteOfDay < half
}

// dispatchZone fans the per-device task out over the zone members with
// a bounded worker pool. A member whose record no longer exists was
// unregistered after the scan; it is skipped, not an error.
func (s *Scheduler) dispatchZone(ctx context.Context, entry registry.Entry, localDate string) (int, []string) {
	var (
		mu        sync.Mutex
		processed int
		errs      []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxConcurrentDispatch)

	for _, deviceID := range entry.MemberDeviceIDs {
		deviceID := deviceID
		group.Go(func() error {
			record, err := s.records.Get(groupCtx, deviceID)
			if err != nil {
				if errors.Is(err, devices.ErrNotFound) {
					s.logf("scheduler: member %s of zone %s has no record, skipping", deviceID, entry.Timezone)
					return nil
				}
				mu.Lock()
				errs = append(errs, fmt.Sprintf("device %s: load record: %v", deviceID, err))
				mu.Unlock()
				return nil
			}
			if err := s.dispatcher.Dispatch(groupCtx, record, localDate); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("device %s: dispatch: %v", deviceID, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only orders the counters.
	_ = group.Wait()
	return processed, errs
}

func (s *Scheduler) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logf("scheduler: event publish failed: %v", err)
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
