package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portalclaw"

var (
	directivesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directives_dispatched_total",
		Help:      "Directives dispatched, by name and status (success, error, denied, unknown).",
	}, []string{"name", "status"})

	directiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "directive_duration_seconds",
		Help:      "Time spent executing a directive against its resource adapter.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name"})

	upstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_attempts_total",
		Help:      "Upstream model attempts, by outcome (ok, transient, terminal, invalid).",
	}, []string{"outcome"})

	upstreamTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_tokens_total",
		Help:      "Tokens reported by the upstream model, by direction.",
	}, []string{"direction"})

	turnsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Conversation turns, by outcome.",
	}, []string{"outcome"})

	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_processed_total",
		Help:      "Background tasks processed by the poller, by final status.",
	}, []string{"status"})
)

// RecordDirective はディスパッチ結果を記録
func RecordDirective(name, status string, elapsed time.Duration) {
	directivesDispatched.WithLabelValues(name, status).Inc()
	if elapsed > 0 {
		directiveDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

// RecordUpstreamAttempt は上流呼び出し1回の結果を記録
func RecordUpstreamAttempt(outcome string) {
	upstreamAttempts.WithLabelValues(outcome).Inc()
}

// RecordTokens はトークン使用量を記録
func RecordTokens(input, output int64) {
	if input > 0 {
		upstreamTokens.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		upstreamTokens.WithLabelValues("output").Add(float64(output))
	}
}

// RecordTurn はターンの結果を記録
func RecordTurn(outcome string) {
	turnsHandled.WithLabelValues(outcome).Inc()
}

// RecordTask はタスクの最終状態を記録
func RecordTask(status string) {
	tasksProcessed.WithLabelValues(status).Inc()
}
