// Package metrics exposes the runner's optional Prometheus surface: run
// duration, peak memory, and throttle/rpc/network counters. Mirrors
// services/automation/service.go's registerMetrics — one struct holding
// the collectors, registered once against a caller-supplied registry, with
// every recording method safe to call on a nil *Recorder so wiring metrics
// in stays entirely optional (spec's Non-goal of "no multi-tenant
// admission control" doesn't forbid observing a single run, but nothing
// requires a caller to wire a registry either).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder holds the collectors the supervisor updates over a run's
// lifetime.
type Recorder struct {
	duration      prometheus.Histogram
	memoryPeak    prometheus.Gauge
	runsTotal     *prometheus.CounterVec
	throttleTotal *prometheus.CounterVec
	rpcCalls      prometheus.Counter
	rpcThrottled  prometheus.Counter
	netRequests   prometheus.Counter
	netThrottled  prometheus.Counter
}

// New constructs a Recorder and registers its collectors against reg. A
// nil reg is not accepted here — callers that want metrics disabled
// should simply keep a nil *Recorder and rely on its methods' nil
// receivers being no-ops.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "w3f_runner",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one supervised run.",
			Buckets:   prometheus.DefBuckets,
		}),
		memoryPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "w3f_runner",
			Name:      "run_memory_peak_mb",
			Help:      "Peak sampled guest process RSS for the most recent run.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "runs_total",
			Help:      "Total runs, labeled by outcome.",
		}, []string{"outcome"}),
		throttleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "throttle_events_total",
			Help:      "Total throttle events, labeled by reason.",
		}, []string{"reason"}),
		rpcCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "rpc_calls_total",
			Help:      "Total RPC calls forwarded by the RPC proxy.",
		}),
		rpcThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "rpc_calls_throttled_total",
			Help:      "RPC calls rejected for exceeding rpcLimit.",
		}),
		netRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "egress_requests_total",
			Help:      "Total HTTP egress requests forwarded by the proxy.",
		}),
		netThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "w3f_runner",
			Name:      "egress_requests_throttled_total",
			Help:      "HTTP egress requests rejected for a blocklist or quota hit.",
		}),
	}
	reg.MustRegister(r.duration, r.memoryPeak, r.runsTotal, r.throttleTotal,
		r.rpcCalls, r.rpcThrottled, r.netRequests, r.netThrottled)
	return r
}

func (r *Recorder) ObserveRun(success bool, durationSeconds, peakMemoryMB float64) {
	if r == nil {
		return
	}
	r.duration.Observe(durationSeconds)
	r.memoryPeak.Set(peakMemoryMB)
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.runsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveThrottle(reason string) {
	if r == nil {
		return
	}
	r.throttleTotal.WithLabelValues(reason).Inc()
}

func (r *Recorder) ObserveRPC(total, throttled int) {
	if r == nil {
		return
	}
	r.rpcCalls.Add(float64(total))
	r.rpcThrottled.Add(float64(throttled))
}

func (r *Recorder) ObserveNetwork(total, throttled int) {
	if r == nil {
		return
	}
	r.netRequests.Add(float64(total))
	r.netThrottled.Add(float64(throttled))
}
