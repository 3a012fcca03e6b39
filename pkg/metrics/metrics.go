package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool / capacity metrics (§4.1, §4.7)
	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_pools_total",
			Help: "Total number of machine pools by status",
		},
		[]string{"status"},
	)

	PoolAvailCores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_pool_avail_cores",
			Help: "Available cores per pool after oversubscription (reservations not subtracted)",
		},
		[]string{"pool"},
	)

	PoolAvailRAM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_pool_avail_ram_mib",
			Help: "Available RAM (MiB) per pool after oversubscription (reservations not subtracted)",
		},
		[]string{"pool"},
	)

	MachinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_machines_total",
			Help: "Total number of machines by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genesis_compute_volumes_total",
			Help: "Total number of volumes",
		},
	)

	// Scheduler metrics (§4.6)
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genesis_compute_scheduling_latency_seconds",
			Help:    "Time taken for one scheduling cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MachinesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genesis_compute_machines_scheduled_total",
			Help: "Total number of machines placed by the scheduler",
		},
	)

	SchedulingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genesis_compute_scheduling_failures_total",
			Help: "Total number of scheduling attempts that found no eligible pool",
		},
		[]string{"reason"},
	)

	// Reconciliation engine metrics (§4.3)
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genesis_compute_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciliation iteration across all kinds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genesis_compute_reconciliation_cycles_total",
			Help: "Total number of reconciliation iterations completed",
		},
	)

	ReconciliationKindDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genesis_compute_reconciliation_kind_duration_seconds",
			Help:    "Time taken to reconcile one resource kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Pool agent metrics (§4.2)
	AgentDPDiffTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genesis_compute_agent_dp_diff_total",
			Help: "Total number of data-plane diff actions taken by a pool agent",
		},
		[]string{"pool", "action"},
	)

	AgentSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genesis_compute_agent_sync_duration_seconds",
			Help:    "Time taken for a pool agent to reconcile its pool against the driver",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	// Capacity / reservation metrics (§4.7)
	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genesis_compute_reservations_total",
			Help: "Total number of pending capacity reservations by pool",
		},
		[]string{"pool"},
	)

	BuildersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genesis_compute_builders_total",
			Help: "Total number of registered pool builders",
		},
	)

	// Boot API metrics (§6)
	BootRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genesis_compute_boot_requests_total",
			Help: "Total number of iPXE boot script requests by script type",
		},
		[]string{"script"},
	)

	BootRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genesis_compute_boot_request_duration_seconds",
			Help:    "Boot script request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolsTotal,
		PoolAvailCores,
		PoolAvailRAM,
		MachinesTotal,
		NodesTotal,
		VolumesTotal,
		SchedulingLatency,
		MachinesScheduled,
		SchedulingFailures,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciliationKindDuration,
		AgentDPDiffTotal,
		AgentSyncDuration,
		ReservationsTotal,
		BuildersTotal,
		BootRequestsTotal,
		BootRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
