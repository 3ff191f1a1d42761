// Package metrics is the ambient observability stack: Prometheus counters
// and gauges exactly as the teacher's internal/metrics/metrics.go wires
// them (promauto + gopsutil system gauges), extended with catalogue
// lifecycle, verifier and synchroniser counters the query-path-only
// teacher never needed.
package metrics

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics holds the collected metrics. The zero value is not usable; use
// New (not a package-level singleton — the teacher's once.Do singleton
// doesn't fit a repo that may run several servers under test).
type Metrics struct {
	sync.RWMutex
	totalQueries int64
	startTime    time.Time
}

var (
	promQPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authdns_qps",
		Help: "Queries per second",
	})
	promTotalQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authdns_total_queries",
		Help: "Total number of DNS queries",
	})
	promResponseCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authdns_response_codes_total",
		Help: "Total number of responses by rcode",
	}, []string{"rcode"})
	promQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authdns_query_latency_seconds",
		Help:    "Query handling latency",
		Buckets: prometheus.DefBuckets,
	})
	promCPUUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authdns_cpu_usage_percent",
		Help: "Current CPU usage percentage",
	})
	promMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authdns_memory_usage_percent",
		Help: "Current memory usage percentage",
	})
	promGoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authdns_goroutine_count",
		Help: "Current number of goroutines",
	})
	promDomainsByLifecycle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authdns_domains_by_lifecycle",
		Help: "Managed domains by lifecycle state",
	}, []string{"state"})
	promZoneCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authdns_zone_cache_entries",
		Help: "Number of answerable entries in the zone cache",
	})
	promVerifierTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authdns_verifier_outcomes_total",
		Help: "Verifier tick outcomes by transition",
	}, []string{"transition"})
	promSyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authdns_sync_runs_total",
		Help: "Synchroniser run outcomes",
	}, []string{"result"})
)

func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	go m.qpsCalculator()
	go m.systemMetricsCollector()
	return m
}

// RecordQuery records one completed query's rcode and latency.
func (m *Metrics) RecordQuery(rcode int, latency time.Duration) {
	m.Lock()
	m.totalQueries++
	m.Unlock()

	promTotalQueries.Inc()
	promResponseCodes.WithLabelValues(dns.RcodeToString[rcode]).Inc()
	promQueryLatency.Observe(latency.Seconds())
}

// RecordLifecycleCounts overwrites the per-state domain gauge, called by the
// Verifier after every tick.
func RecordLifecycleCounts(counts map[string]int) {
	promDomainsByLifecycle.Reset()
	for state, n := range counts {
		promDomainsByLifecycle.WithLabelValues(state).Set(float64(n))
	}
}

func RecordZoneCacheSize(n int) {
	promZoneCacheSize.Set(float64(n))
}

// RecordVerifierOutcome records one domain's per-tick transition, labelled
// e.g. "verified->grace" or "verified->verified".
func RecordVerifierOutcome(transition string) {
	promVerifierTicks.WithLabelValues(transition).Inc()
}

// RecordSyncRun records one synchroniser tick's outcome ("ok" or "error").
func RecordSyncRun(result string) {
	promSyncRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) qpsCalculator() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last int64
	for range ticker.C {
		m.Lock()
		cur := m.totalQueries
		m.Unlock()
		promQPS.Set(float64(cur - last))
		last = cur
	}
}

func (m *Metrics) systemMetricsCollector() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
			promCPUUsage.Set(pct[0])
		} else if err != nil {
			log.Printf("metrics: cpu.Percent: %v", err)
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			promMemoryUsage.Set(vm.UsedPercent)
		}
		promGoroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}
