package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "cikit"

	ResultPass = "pass"
	ResultFail = "fail"
)

var (
	Debug                bool = true
	validResults              = []string{ResultPass, ResultFail}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	retryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retry_runs_total",
		Help:      "Count of wrapped command runs by result",
	}, []string{
		"result",
	})

	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retry_attempts_total",
		Help:      "Count of command attempts by result",
	}, []string{
		"result",
	})

	retryDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "retry_duration_seconds",
		Help:      "Wall-clock duration of the last wrapped command run",
	}, []string{
		"result",
	})

	dockerdReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "dockerd_ready",
		Help:      "Whether the managed docker daemon answers pings (1 ready, 0 not)",
	})

	dockerdPingDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "dockerd_ping_seconds",
		Help:      "Duration of the last docker daemon ping",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRetry records one finished wrapped command run.
func RecordRetry(result string, attempts int, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordRetry - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "retry_runs_total",
			"result", result,
			"attempts", attempts,
			"duration", duration)
	}
	retryRunsTotal.WithLabelValues(result).Inc()
	retryAttemptsTotal.WithLabelValues(result).Add(float64(attempts))
	retryDuration.WithLabelValues(result).Set(duration.Seconds())
}

// RecordDockerdPing records the result of one docker daemon liveness probe.
func RecordDockerdPing(ready bool, duration time.Duration) {
	v := 0.0
	if ready {
		v = 1.0
	}
	dockerdReady.Set(v)
	dockerdPingDuration.Set(duration.Seconds())
}

func isValidResult(result string) bool {
	return slices.Contains(validResults, result)
}
