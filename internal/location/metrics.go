package location

import "github.com/prometheus/client_golang/prometheus"

// Fix outcomes.
const (
	outcomeProcessed  = "processed"
	outcomeDebounced  = "debounced"
	outcomeInvalid    = "invalid"
	outcomeFetchError = "fetch_error"
)

var (
	fixCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "location",
		Name:      "fixes_total",
		Help:      "Location fixes grouped by producer and outcome.",
	}, []string{"producer", "outcome"})

	feedDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "location",
		Name:      "feed_dropped_total",
		Help:      "Buffered fixes discarded because a subscriber fell behind.",
	})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "location",
		Name:      "decode_errors_total",
		Help:      "Location messages that could not be decoded, per topic.",
	}, []string{"topic"})

	taskRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "scheduler",
		Name:      "task_runs_total",
		Help:      "Scheduled task invocations grouped by task and outcome.",
	}, []string{"task", "outcome"})

	lastFixGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gymtracker",
		Subsystem: "location",
		Name:      "last_fix_timestamp_seconds",
		Help:      "Unix timestamp of the most recent processed fix per producer.",
	}, []string{"producer"})
)

func init() {
	prometheus.MustRegister(fixCounter, feedDroppedCounter, decodeErrorCounter, taskRunCounter, lastFixGauge)
}

func recordFix(producer, outcome string) {
	fixCounter.WithLabelValues(producer, outcome).Inc()
}

func recordProcessed(producer string, fix Fix) {
	recordFix(producer, outcomeProcessed)
	if !fix.Timestamp.IsZero() {
		lastFixGauge.WithLabelValues(producer).Set(float64(fix.Timestamp.Unix()))
	}
}

func recordTaskRun(task, outcome string) {
	taskRunCounter.WithLabelValues(task, outcome).Inc()
}
