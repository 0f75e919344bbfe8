package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics bridges the subsystem's snapshots into prometheus. Values are
// gauges refreshed on every report tick.
type metrics struct {
	l1Hits       prometheus.Gauge
	l1Misses     prometheus.Gauge
	remoteHits   prometheus.Gauge
	remoteMisses prometheus.Gauge
	remoteErrors prometheus.Gauge
	fallbacks    prometheus.Gauge
	l1Entries    prometheus.Gauge
	hitRate      prometheus.Gauge

	connectionState prometheus.Gauge
	breakerState    *prometheus.GaugeVec
	healthStatus    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &metrics{
		l1Hits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_l1_hits_total",
			Help: "Local tier cache hits",
		}),
		l1Misses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_l1_misses_total",
			Help: "Local tier cache misses",
		}),
		remoteHits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_remote_hits_total",
			Help: "Remote tier cache hits",
		}),
		remoteMisses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_remote_misses_total",
			Help: "Remote tier cache misses",
		}),
		remoteErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_remote_errors_total",
			Help: "Remote tier failures absorbed by the orchestrator",
		}),
		fallbacks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_fallbacks_total",
			Help: "Lookups answered as misses because the remote tier was unreachable",
		}),
		l1Entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_l1_entries",
			Help: "Entries resident in the local tier",
		}),
		hitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_hit_rate",
			Help: "Combined hit rate across tiers",
		}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_connection_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratocache_breaker_state",
			Help: "Circuit breaker state per operation (0 closed, 1 half-open, 2 open)",
		}, []string{"operation"}),
		healthStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratocache_health_status",
			Help: "Overall health (0 healthy, 1 degraded, 2 unhealthy)",
		}),
	}
}

func (m *metrics) observe(r Report) {
	m.l1Hits.Set(float64(r.Cache.L1Hits))
	m.l1Misses.Set(float64(r.Cache.L1Misses))
	m.remoteHits.Set(float64(r.Cache.RemoteHits))
	m.remoteMisses.Set(float64(r.Cache.RemoteMisses))
	m.remoteErrors.Set(float64(r.Cache.RemoteErrors))
	m.fallbacks.Set(float64(r.Cache.Fallbacks))
	m.l1Entries.Set(float64(r.Cache.L1Entries))
	m.hitRate.Set(r.Cache.HitRate)
	m.connectionState.Set(float64(r.Connection))
	m.healthStatus.Set(float64(r.Status))
	for name, snap := range r.Breakers {
		m.breakerState.WithLabelValues(name).Set(float64(snap.State))
	}
}
