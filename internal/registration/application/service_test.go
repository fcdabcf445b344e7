package application

import (
	"context"
	"errors"
	"testing"
	"time"

	devices "purifier-cloud/internal/devices/domain"
	devicememory "purifier-cloud/internal/devices/infrastructure/memory"
	"purifier-cloud/internal/eventing"
	ledger "purifier-cloud/internal/ledger/domain"
	ledgermemory "purifier-cloud/internal/ledger/infrastructure/memory"
	"purifier-cloud/internal/registration/application/events"
	registry "purifier-cloud/internal/registry/domain"
	registrymemory "purifier-cloud/internal/registry/infrastructure/memory"
	stations "purifier-cloud/internal/stations/domain"
	stationmemory "purifier-cloud/internal/stations/infrastructure/memory"
)

type stubProvider struct {
	reading *stations.Reading
	err     error
	calls   int
}

func (p *stubProvider) Nearest(_ context.Context, _, _ float64) (*stations.Reading, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	copied := *p.reading
	return &copied, nil
}

type fixture struct {
	ledger   *ledgermemory.LedgerRepository
	records  *devicememory.DeviceRepository
	registry *registrymemory.RegistryRepository
	cache    *stationmemory.CacheRepository
	provider *stubProvider
	service  *Service
	bus      *eventing.InMemoryBus
}

func newFixture(t *testing.T, provider *stubProvider) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   ledgermemory.NewLedgerRepository(),
		records:  devicememory.NewDeviceRepository(),
		registry: registrymemory.NewRegistryRepository(),
		cache:    stationmemory.NewCacheRepository(),
		provider: provider,
		bus:      eventing.NewInMemoryBus(),
	}
	service, err := NewService(f.ledger, f.records, f.registry, f.cache, provider, WithBus(f.bus))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = service
	return f
}

func seoulProvider() *stubProvider {
	return &stubProvider{reading: &stations.Reading{
		StationID:      "1682",
		CityName:       "Seoul",
		TimezoneOffset: "+09:00",
		AQI:            55,
		Pollutants:     map[string]float64{"pm25": 55},
		FetchedAt:      time.Now().UTC(),
	}}
}

func TestRegisterWithStation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seoulProvider())
	if err := f.ledger.Add(ctx, "D1"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	var published []events.DeviceRegistered
	eventing.SubscribeTyped(f.bus, func(_ context.Context, event events.DeviceRegistered) error {
		published = append(published, event)
		return nil
	})

	record, err := f.service.Register(ctx, "U1", "D1", "Living Room", &devices.Geo{Lat: 37.5665, Lon: 126.978})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if record.Timezone != "+09:00" {
		t.Fatalf("expected timezone +09:00, got %q", record.Timezone)
	}
	if record.StationRef != "1682" {
		t.Fatalf("expected station ref 1682, got %q", record.StationRef)
	}
	if record.Settings.Sensitivity != devices.SensitivityMedium {
		t.Fatalf("expected factory settings, got %+v", record.Settings)
	}

	entry, err := f.registry.Get(ctx, "+09:00")
	if err != nil {
		t.Fatalf("registry entry: %v", err)
	}
	if !entry.HasMember("D1") || entry.MemberCount != 1 {
		t.Fatalf("D1 missing from zone entry: %+v", entry)
	}

	cached, err := f.cache.Get(ctx, "1682")
	if err != nil {
		t.Fatalf("cache entry: %v", err)
	}
	if cached.CityName != "Seoul" || cached.TimezoneOffset != "+09:00" {
		t.Fatalf("unexpected cache entry %+v", cached)
	}

	ledgerEntry, err := f.ledger.Get(ctx, "D1")
	if err != nil {
		t.Fatalf("ledger entry: %v", err)
	}
	if ledgerEntry.ClaimedByUserID != "U1" {
		t.Fatalf("claim not recorded: %+v", ledgerEntry)
	}

	if len(published) != 1 || published[0].DeviceID != "D1" {
		t.Fatalf("expected one DeviceRegistered event, got %v", published)
	}
}

func TestRegisterDegradesOnBadGeo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seoulProvider())
	if err := f.ledger.Add(ctx, "D2"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	record, err := f.service.Register(ctx, "U1", "D2", "Bedroom", &devices.Geo{Lat: 999, Lon: 999})
	if err != nil {
		t.Fatalf("register must succeed on malformed geo: %v", err)
	}
	if record.Timezone != registry.FallbackTimezone || record.StationRef != "" {
		t.Fatalf("expected UTC/no-station degrade, got %+v", record)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider must not be called for invalid geo")
	}

	entry, err := f.registry.Get(ctx, registry.FallbackTimezone)
	if err != nil {
		t.Fatalf("UTC zone entry: %v", err)
	}
	if !entry.HasMember("D2") {
		t.Fatalf("D2 missing from UTC bucket: %+v", entry)
	}
}

func TestRegisterDegradesOnProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubProvider{err: errors.New("upstream down")})
	if err := f.ledger.Add(ctx, "D5"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	record, err := f.service.Register(ctx, "U1", "D5", "Office", &devices.Geo{Lat: 48.2, Lon: 16.37})
	if err != nil {
		t.Fatalf("provider failure must not fail registration: %v", err)
	}
	if record.Timezone != registry.FallbackTimezone || record.StationRef != "" {
		t.Fatalf("expected degraded record, got %+v", record)
	}
	if f.provider.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", f.provider.calls)
	}
}

func TestRegisterClaimFailureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seoulProvider())
	if err := f.ledger.Add(ctx, "D3"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if _, err := f.service.Register(ctx, "U1", "D3", "First", nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	providerCallsBefore := f.provider.calls

	_, err := f.service.Register(ctx, "U2", "D3", "Second", &devices.Geo{Lat: 37.5665, Lon: 126.978})
	if !errors.Is(err, ledger.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	if f.provider.calls != providerCallsBefore {
		t.Fatalf("provider called after failed claim")
	}
	entry, err := f.ledger.Get(ctx, "D3")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if entry.ClaimedByUserID != "U1" {
		t.Fatalf("owner changed by failed claim: %+v", entry)
	}
	record, err := f.records.Get(ctx, "D3")
	if err != nil {
		t.Fatalf("record get: %v", err)
	}
	if record.OwnerID != "U1" {
		t.Fatalf("record rewritten by failed registration: %+v", record)
	}
}

func TestRegisterUnknownDevice(t *testing.T) {
	f := newFixture(t, seoulProvider())
	_, err := f.service.Register(context.Background(), "U1", "missing", "X", nil)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, seoulProvider())
	if _, err := f.service.Register(context.Background(), "", "D1", "X", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty user, got %v", err)
	}
	if _, err := f.service.Register(context.Background(), "U1", "", "X", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty device, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seoulProvider())
	if err := f.ledger.Add(ctx, "D4"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if _, err := f.service.Register(ctx, "U1", "D4", "Hall", &devices.Geo{Lat: 37.5665, Lon: 126.978}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.service.Unregister(ctx, "U2", "D4"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}

	if err := f.service.Unregister(ctx, "U1", "D4"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	entry, err := f.registry.Get(ctx, "+09:00")
	if err != nil {
		t.Fatalf("zone entry retained: %v", err)
	}
	if entry.HasMember("D4") {
		t.Fatalf("membership not removed: %+v", entry)
	}
	ledgerEntry, err := f.ledger.Get(ctx, "D4")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if ledgerEntry.Claimed() {
		t.Fatalf("claim not released: %+v", ledgerEntry)
	}
	if _, err := f.records.Get(ctx, "D4"); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("record not deleted, err=%v", err)
	}

	if err := f.service.Unregister(ctx, "U1", "D4"); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second unregister, got %v", err)
	}
}

func TestReRegisterAfterUnregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seoulProvider())
	if err := f.ledger.Add(ctx, "D6"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if _, err := f.service.Register(ctx, "U1", "D6", "A", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.service.Unregister(ctx, "U1", "D6"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := f.service.Register(ctx, "U2", "D6", "B", nil); err != nil {
		t.Fatalf("re-register by new owner: %v", err)
	}
	entry, err := f.ledger.Get(ctx, "D6")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if entry.ClaimedByUserID != "U2" {
		t.Fatalf("expected new owner U2, got %+v", entry)
	}
}
