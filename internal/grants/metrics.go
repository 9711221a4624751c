package grants

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the grants cache is doing. Pass a registerer to
// expose them; unregistered metrics still record and cost next to nothing.
type Metrics struct {
	Fetches     *prometheus.CounterVec
	RefreshRuns prometheus.Counter
	Evictions   *prometheus.CounterVec
	CacheSize   prometheus.Gauge
}

const (
	FetchResultOK      = "ok"
	FetchResultDenied  = "denied"
	FetchResultInvalid = "invalid_token"
	FetchResultError   = "error"

	EvictionReasonIdle    = "idle"
	EvictionReasonExpired = "expired"
	EvictionReasonGC      = "gc"
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantly_grants_fetches_total",
			Help: "Grants fetches against the upstream, by result.",
		}, []string{"result"}),
		RefreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantly_grants_refresh_runs_total",
			Help: "Completed background refresh runs.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantly_grants_evictions_total",
			Help: "Cache entries evicted, by reason.",
		}, []string{"reason"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grantly_grants_cache_size",
			Help: "Number of principals currently in the grants cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Fetches, m.RefreshRuns, m.Evictions, m.CacheSize)
	}
	return m
}
