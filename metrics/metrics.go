package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	accruals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loci",
			Subsystem: "intimacy",
			Name:      "accruals_total",
			Help:      "Interaction triggers processed, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	levelUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loci",
			Subsystem: "intimacy",
			Name:      "level_ups_total",
			Help:      "Pairs that reached a new level.",
		},
		[]string{"level"},
	)

	levelUpDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loci",
			Subsystem: "intimacy",
			Name:      "levelup_dropped_total",
			Help:      "Level-up signals dropped because the dispatch queue was full or stopped.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loci",
			Name:      "notifications_total",
			Help:      "Level-up notifications by delivery outcome.",
		},
		[]string{"outcome"},
	)

	pairsByLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loci",
			Subsystem: "intimacy",
			Name:      "pairs",
			Help:      "Score pairs currently at each level.",
		},
		[]string{"level"},
	)
)

// Accrual outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeThrottled = "throttled"
	OutcomeSelf      = "self"
)

// Notification outcomes.
const (
	NotifyStored     = "stored"
	NotifyPushed     = "pushed"
	NotifyPushFailed = "push_failed"
	NotifyFailed     = "failed"
)

func init() {
	Registry.MustRegister(
		accruals,
		levelUps,
		levelUpDropped,
		notifications,
		pairsByLevel,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordAccrual(kind, outcome string) {
	accruals.WithLabelValues(kind, outcome).Inc()
}

func RecordLevelUp(level int) {
	levelUps.WithLabelValues(strconv.Itoa(level)).Inc()
}

func RecordLevelUpDropped() {
	levelUpDropped.Inc()
}

func RecordNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

// SetPairsByLevel replaces the gauge contents with a fresh snapshot.
func SetPairsByLevel(counts map[int]int64) {
	pairsByLevel.Reset()
	for level, n := range counts {
		pairsByLevel.WithLabelValues(strconv.Itoa(level)).Set(float64(n))
	}
}
