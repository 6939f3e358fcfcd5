package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for Halaxy sync flows.
type SyncMetrics struct {
	syncRunsTotal    *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	syncDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	rateLimitWaits   prometheus.Counter
	unmappedStatuses *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		syncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wattle",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total per-practitioner sync passes",
		}, []string{"result"}),
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wattle",
			Subsystem: "sync",
			Name:      "records_processed_total",
			Help:      "Total records upserted across sync passes",
		}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wattle",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of full sync passes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wattle",
			Subsystem: "halaxy",
			Name:      "upstream_requests_total",
			Help:      "Total Halaxy API requests by method and status code",
		}, []string{"method", "status"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wattle",
			Subsystem: "halaxy",
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Total time spent sleeping out the upstream request quota",
		}),
		unmappedStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wattle",
			Subsystem: "sync",
			Name:      "unmapped_status_total",
			Help:      "Upstream appointment statuses that fell through to the scheduled default",
		}, []string{"fhir_status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.syncRunsTotal, m.recordsProcessed, m.syncDuration, m.upstreamRequests, m.rateLimitWaits, m.unmappedStatuses)
	return m
}

func (m *SyncMetrics) ObserveSyncRun(success bool, seconds float64, records int) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.syncRunsTotal.WithLabelValues(result).Inc()
	m.syncDuration.WithLabelValues(result).Observe(seconds)
	m.recordsProcessed.Add(float64(records))
}

// ObserveUpstreamRequest implements halaxy.RequestObserver.
func (m *SyncMetrics) ObserveUpstreamRequest(method string, statusCode int) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, statusLabel(statusCode)).Inc()
}

// ObserveRateLimitWait records time the client slept waiting on the quota.
func (m *SyncMetrics) ObserveRateLimitWait(seconds float64) {
	if m == nil {
		return
	}
	m.rateLimitWaits.Add(seconds)
}

func (m *SyncMetrics) ObserveUnmappedStatus(fhirStatus string) {
	if m == nil {
		return
	}
	m.unmappedStatuses.WithLabelValues(fhirStatus).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
