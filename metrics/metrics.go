package metrics

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "originfs"
	subsystem = "pool"
)

var (
	bootTimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "boot_time_seconds",
		Help:      "Boot time of this instance since epoch (1970)",
	})
	timeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "time_seconds",
		Help:      "System time in seconds since epoch (1970)",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Requests sent to workers by verb and outcome",
	}, []string{"verb", "outcome"})
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Time from posting a request to resolving it",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"verb"})
	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pending_calls",
		Help:      "Requests waiting for a response",
	})
	Slots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "slots",
		Help:      "Live worker slots",
	})
	LateReplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "late_replies_total",
		Help:      "Responses dropped because their call already timed out",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
	}, []string{"method", "route_path", "code"})
)

// Outcome labels for RequestsTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// ObserveRequest records a resolved call.
func ObserveRequest(verb, outcome string, started time.Time) {
	RequestsTotal.WithLabelValues(verb, outcome).Inc()
	RequestDuration.WithLabelValues(verb).Observe(time.Since(started).Seconds())
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Initialize sets the boot time and keeps the clock gauge current until done
// receives a value or is closed.
func Initialize(done <-chan struct{}) {
	bootTimeSeconds.Set(float64(time.Now().UnixNano()) / 1e9)
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				log.Debug("metrics: done")
				return
			case t := <-ticker.C:
				timeSeconds.Set(float64(t.UnixNano()) / 1e9)
			}
		}
	}()
}
