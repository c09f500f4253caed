package tracking

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Reconciliation outcomes grouped by execution context and transition.",
	}, []string{"context", "transition"})

	contentionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "lifecycle",
		Name:      "contention_total",
		Help:      "Session transitions skipped because another transition held the guard.",
	}, []string{"context", "operation"})

	remoteErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "lifecycle",
		Name:      "remote_errors_total",
		Help:      "Failed calls to the remote session API.",
	}, []string{"context", "operation"})

	storeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "lifecycle",
		Name:      "store_errors_total",
		Help:      "Failed reads or writes of the durable tracking state.",
	}, []string{"context", "operation"})

	corruptStateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymtracker",
		Subsystem: "state",
		Name:      "corrupt_records_total",
		Help:      "Persisted session records discarded as unreadable.",
	}, []string{"reason"})

	openSessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gymtracker",
		Subsystem: "lifecycle",
		Name:      "session_open",
		Help:      "1 while this process believes a workout session is open.",
	})
)

func init() {
	prometheus.MustRegister(transitionCounter, contentionCounter, remoteErrorCounter, storeErrorCounter, corruptStateCounter, openSessionGauge)
}

func recordTransition(execContext, transition string) {
	transitionCounter.WithLabelValues(execContext, transition).Inc()
}

func recordContention(execContext, operation string) {
	contentionCounter.WithLabelValues(execContext, operation).Inc()
}

func recordRemoteError(execContext, operation string) {
	remoteErrorCounter.WithLabelValues(execContext, operation).Inc()
}

func recordStoreError(execContext, operation string) {
	storeErrorCounter.WithLabelValues(execContext, operation).Inc()
}

func recordCorruptState(reason string) {
	corruptStateCounter.WithLabelValues(reason).Inc()
}

func setSessionOpen(open bool) {
	if open {
		openSessionGauge.Set(1)
		return
	}
	openSessionGauge.Set(0)
}
