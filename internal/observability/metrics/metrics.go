package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleet_"

	resultSuccess  = "success"
	resultError    = "error"
	resultDegraded = "degraded"
	resultConflict = "conflict"
)

var (
	registerOnce sync.Once

	registrations       *prometheus.CounterVec
	registrationLatency *prometheus.HistogramVec
	unregistrations     *prometheus.CounterVec
	claimConflicts      prometheus.Counter
	providerCalls       *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	schedulerTicks      prometheus.Counter
	zonesTriggered      prometheus.Counter
	devicesProcessed    prometheus.Counter
	dispatchErrors      prometheus.Counter
	registryZones       prometheus.Gauge
)

// Init registers fleet metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		registrations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "registrations_total",
				Help: "Total device registrations by result",
			},
			[]string{"result"},
		)
		registrationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "registration_latency_seconds",
				Help:    "Registration latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		unregistrations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unregistrations_total",
				Help: "Total device unregistrations by result",
			},
			[]string{"result"},
		)
		claimConflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "claim_conflicts_total",
				Help: "Total claims rejected because the device was already owned",
			},
		)
		providerCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_calls_total",
				Help: "Total station provider calls by result",
			},
			[]string{"result"},
		)
		providerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "provider_latency_seconds",
				Help:    "Station provider call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		schedulerTicks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_ticks_total",
				Help: "Total midnight scheduler passes",
			},
		)
		zonesTriggered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_zones_triggered_total",
				Help: "Total zones that entered their midnight window",
			},
		)
		devicesProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_devices_processed_total",
				Help: "Total per-device dispatches attempted",
			},
		)
		dispatchErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_dispatch_errors_total",
				Help: "Total per-device dispatch errors",
			},
		)
		registryZones = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "registry_zones",
				Help: "Distinct timezone entries seen on the last scheduler pass",
			},
		)

		prometheus.MustRegister(
			registrations,
			registrationLatency,
			unregistrations,
			claimConflicts,
			providerCalls,
			providerLatency,
			schedulerTicks,
			zonesTriggered,
			devicesProcessed,
			dispatchErrors,
			registryZones,
		)
	})
}

// ObserveRegistration records registration duration and result.
func ObserveRegistration(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if registrations != nil {
		registrations.WithLabelValues(result).Inc()
	}
	if registrationLatency != nil {
		registrationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncUnregistration increments unregistration counters.
func IncUnregistration(result string) {
	if result == "" {
		result = resultSuccess
	}
	if unregistrations != nil {
		unregistrations.WithLabelValues(result).Inc()
	}
}

// IncClaimConflict counts a rejected claim.
func IncClaimConflict() {
	if claimConflicts != nil {
		claimConflicts.Inc()
	}
}

// ObserveProviderCall records provider call duration and result.
func ObserveProviderCall(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if providerCalls != nil {
		providerCalls.WithLabelValues(result).Inc()
	}
	if providerLatency != nil {
		providerLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveSchedulerPass records the outcome of one scheduler pass.
func ObserveSchedulerPass(zones, triggered, processed, errs int) {
	if schedulerTicks != nil {
		schedulerTicks.Inc()
	}
	if registryZones != nil {
		registryZones.Set(float64(zones))
	}
	if zonesTriggered != nil && triggered > 0 {
		zonesTriggered.Add(float64(triggered))
	}
	if devicesProcessed != nil && processed > 0 {
		devicesProcessed.Add(float64(processed))
	}
	if dispatchErrors != nil && errs > 0 {
		dispatchErrors.Add(float64(errs))
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultDegraded = resultDegraded
	ResultConflict = resultConflict
)
