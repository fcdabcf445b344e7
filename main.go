package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"purifier-cloud/internal/audit"
	devices "purifier-cloud/internal/devices/domain"
	devicerepo "purifier-cloud/internal/devices/infrastructure/postgres"
	devicehttp "purifier-cloud/internal/devices/interfaces/http"
	"purifier-cloud/internal/eventing"
	ledgerrepo "purifier-cloud/internal/ledger/infrastructure/postgres"
	"purifier-cloud/internal/observability/metrics"
	regapp "purifier-cloud/internal/registration/application"
	regevents "purifier-cloud/internal/registration/application/events"
	reghttp "purifier-cloud/internal/registration/interfaces/http"
	registryrepo "purifier-cloud/internal/registry/infrastructure/postgres"
	reporthttp "purifier-cloud/internal/reporting/interfaces/http"
	schedapp "purifier-cloud/internal/scheduler/application"
	schedevents "purifier-cloud/internal/scheduler/application/events"
	stationrepo "purifier-cloud/internal/stations/infrastructure/postgres"
	"purifier-cloud/internal/stations/provider"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	ledgerRepo := ledgerrepo.NewLedgerRepository(db)
	deviceRepo := devicerepo.NewDeviceRepository(db)
	registryRepo := registryrepo.NewRegistryRepository(db)
	cacheRepo := stationrepo.NewCacheRepository(db)
	auditRepo := audit.NewRepository(db)

	stationClient, err := provider.NewClient(cfg.AQIBaseURL, cfg.AQIToken, provider.WithTimeout(cfg.AQITimeout))
	if err != nil {
		logger.Fatalf("station provider error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	eventing.SubscribeTyped(bus, func(_ context.Context, event regevents.DeviceRegistered) error {
		logger.Printf("device registered: device=%s owner=%s timezone=%s station=%s",
			event.DeviceID, event.OwnerID, event.Timezone, event.StationRef)
		return nil
	})
	eventing.SubscribeTyped(bus, func(_ context.Context, event regevents.DeviceUnregistered) error {
		logger.Printf("device unregistered: device=%s owner=%s", event.DeviceID, event.OwnerID)
		return nil
	})
	eventing.SubscribeTyped(bus, func(_ context.Context, event schedevents.ZoneTriggered) error {
		logger.Printf("zone triggered: timezone=%s date=%s members=%d errors=%d",
			event.Timezone, event.LocalDate, event.MemberCount, event.Errors)
		return nil
	})

	registrationService, err := regapp.NewService(
		ledgerRepo, deviceRepo, registryRepo, cacheRepo, stationClient,
		regapp.WithBus(bus),
		regapp.WithAudit(auditRepo),
		regapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("registration service error: %v", err)
	}
	registrationHandler, err := reghttp.NewHandler(registrationService)
	if err != nil {
		logger.Fatalf("registration handler error: %v", err)
	}
	heartbeatHandler, err := devicehttp.NewHeartbeatHandler(deviceRepo)
	if err != nil {
		logger.Fatalf("heartbeat handler error: %v", err)
	}
	reportHandler, err := reporthttp.NewHandler(registryRepo, deviceRepo)
	if err != nil {
		logger.Fatalf("reporting handler error: %v", err)
	}

	schedCfg, err := schedapp.LoadConfig()
	if err != nil {
		logger.Fatalf("scheduler config error: %v", err)
	}
	// The midnight task itself is delivered over the device command
	// channel, which terminates outside this service. Dispatch here is
	// the trigger record.
	dispatcher := schedapp.DispatcherFunc(func(_ context.Context, record *devices.DeviceRecord, localDate string) error {
		logger.Printf("midnight dispatch: device=%s timezone=%s date=%s", record.DeviceID, record.Timezone, localDate)
		return nil
	})
	scheduler, err := schedapp.NewScheduler(registryRepo, deviceRepo, dispatcher, schedCfg,
		schedapp.WithBus(bus),
		schedapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	go scheduler.Start(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/api/v1/devices", registrationHandler)
	mux.Handle("/api/v1/devices/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/heartbeat") {
			heartbeatHandler.ServeHTTP(w, r)
			return
		}
		registrationHandler.ServeHTTP(w, r)
	}))
	mux.Handle("/api/v1/reports/", reportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	AQIBaseURL  string
	AQIToken    string
	AQITimeout  time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		AQIBaseURL:  getenvDefault("AQI_BASE_URL", "https://api.waqi.info"),
		AQIToken:    getenvDefault("AQI_TOKEN", ""),
		AQITimeout:  getenvDuration("AQI_TIMEOUT", 10*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.AQIToken == "" {
		log.Fatal("AQI_TOKEN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
