package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	devices "purifier-cloud/internal/devices/domain"
	devicememory "purifier-cloud/internal/devices/infrastructure/memory"
	registrymemory "purifier-cloud/internal/registry/infrastructure/memory"
)

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	failFor    map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, record *devices.DeviceRecord, localDate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failFor[record.DeviceID]; ok {
		return err
	}
	d.dispatched = append(d.dispatched, record.DeviceID+"@"+localDate)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func testConfig() Config {
	return Config{WindowMinutes: 30, TickMinutes: 15, MaxConcurrentDispatch: 4}
}

func seedDevice(t *testing.T, records *devicememory.DeviceRepository, reg *registrymemory.RegistryRepository, deviceID, timezone string) {
	t.Helper()
	ctx := context.Background()
	record := &devices.DeviceRecord{
		DeviceID: deviceID,
		OwnerID:  "U1",
		Timezone: timezone,
		Settings: devices.DefaultSettings(),
	}
	if err := records.Save(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}
	if err := reg.AddMember(ctx, timezone, deviceID); err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func TestRunOnceTriggersInsideWindow(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")
	seedDevice(t, records, reg, "D2", "+09:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	// 14:50 UTC is 23:50 at +09:00, inside [23:45, 00:15).
	now := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	summary, err := scheduler.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.ZonesTriggered != 1 || summary.DevicesProcessed != 2 || len(summary.Errors) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if dispatcher.count() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", dispatcher.count())
	}

	entry, err := reg.Get(ctx, "+09:00")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.LastRunDate != "2026-03-01" {
		t.Fatalf("date guard not written, got %q", entry.LastRunDate)
	}
}

func TestRunOnceOutsideWindow(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	// 12:00 UTC is 21:00 at +09:00, well outside the window.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary, err := scheduler.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.ZonesTriggered != 0 || dispatcher.count() != 0 {
		t.Fatalf("zone triggered outside window: %+v", summary)
	}
	if summary.ZonesScanned != 1 {
		t.Fatalf("expected 1 zone scanned, got %d", summary.ZonesScanned)
	}
}

func TestRunOnceDateGuardBlocksSecondTrigger(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	first := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	if _, err := scheduler.RunOnce(ctx, first); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// A tick later, same local date, still inside the window.
	second := first.Add(5 * time.Minute)
	summary, err := scheduler.RunOnce(ctx, second)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if summary.ZonesTriggered != 0 {
		t.Fatalf("zone re-triggered on same local date: %+v", summary)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("device dispatched twice, got %d dispatches", dispatcher.count())
	}
}

func TestRunOnceTriggersNextDay(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	day1 := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	if _, err := scheduler.RunOnce(ctx, day1); err != nil {
		t.Fatalf("day1 pass: %v", err)
	}
	day2 := day1.Add(24 * time.Hour)
	summary, err := scheduler.RunOnce(ctx, day2)
	if err != nil {
		t.Fatalf("day2 pass: %v", err)
	}
	if summary.ZonesTriggered != 1 || dispatcher.count() != 2 {
		t.Fatalf("zone did not trigger on the next local date: %+v", summary)
	}
}

func TestRunOnceSkipsMissingRecords(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")
	// A member whose record was deleted by a concurrent unregister.
	if err := reg.AddMember(ctx, "+09:00", "gone"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	now := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	summary, err := scheduler.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.DevicesProcessed != 1 || len(summary.Errors) != 0 {
		t.Fatalf("missing record must be a silent skip: %+v", summary)
	}
}

func TestRunOnceAggregatesDispatchErrors(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{failFor: map[string]error{"D2": errors.New("device offline")}}
	seedDevice(t, records, reg, "D1", "+09:00")
	seedDevice(t, records, reg, "D2", "+09:00")
	seedDevice(t, records, reg, "D3", "+09:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	now := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	summary, err := scheduler.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.DevicesProcessed != 2 {
		t.Fatalf("failing device blocked siblings: %+v", summary)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "D2") {
		t.Fatalf("expected one aggregated error for D2, got %v", summary.Errors)
	}

	// The date guard still advances after a partial failure.
	entry, err := reg.Get(ctx, "+09:00")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.LastRunDate != "2026-03-01" {
		t.Fatalf("date guard blocked by dispatch error, got %q", entry.LastRunDate)
	}
}

func TestRunOnceSkipsUnparseableTimezone(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "Not/AZone")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	summary, err := scheduler.RunOnce(ctx, time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.ZonesTriggered != 0 || len(summary.Errors) != 1 {
		t.Fatalf("bad timezone must be counted as an error and skipped: %+v", summary)
	}
	if dispatcher.count() != 0 {
		t.Fatalf("dispatched into an unparseable zone")
	}
}

func TestRunOnceMixedZones(t *testing.T) {
	ctx := context.Background()
	reg := registrymemory.NewRegistryRepository()
	records := devicememory.NewDeviceRepository()
	dispatcher := &recordingDispatcher{}
	seedDevice(t, records, reg, "D1", "+09:00")
	seedDevice(t, records, reg, "D2", "UTC")
	seedDevice(t, records, reg, "D3", "-05:00")

	scheduler, err := NewScheduler(reg, records, dispatcher, testConfig())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	// 23:50 local at +09:00 only; UTC is 14:50, -05:00 is 09:50.
	now := time.Date(2026, 3, 1, 14, 50, 0, 0, time.UTC)
	summary, err := scheduler.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.ZonesScanned != 3 || summary.ZonesTriggered != 1 || summary.DevicesProcessed != 1 {
		t.Fatalf("only the +09:00 zone should trigger: %+v", summary)
	}
	if dispatcher.count() != 1 || !strings.HasPrefix(dispatcher.dispatched[0], "D1@") {
		t.Fatalf("wrong device dispatched: %v", dispatcher.dispatched)
	}
}
