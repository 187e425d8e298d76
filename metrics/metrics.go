package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testpilot/testpilot/types"
)

const (
	MetricsNamespace = "testpilot"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "executions_total",
		Help:      "Count of artifact executions",
	}, []string{
		"environment",
		"run_id",
		"artifact",
		"result",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "dependency_downloads_total",
		Help:      "Count of dependency download attempts",
	}, []string{
		"binary",
		"transport",
		"result",
	})

	batchResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_results",
		Help:      "Result of execution batches",
	}, []string{
		"environment",
		"run_id",
		"success",
	})

	batchTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_test_total",
		Help:      "Total number of tests in a batch",
	}, []string{
		"environment",
		"run_id",
	})

	batchTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_test_passed",
		Help:      "Number of passed tests in a batch",
	}, []string{
		"environment",
		"run_id",
	})

	batchTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_test_failed",
		Help:      "Number of failed tests in a batch",
	}, []string{
		"environment",
		"run_id",
	})

	batchDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "batch_duration_seconds",
		Help:      "Total duration of a batch",
	}, []string{
		"environment",
		"run_id",
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

// RecordExecution records the outcome of a single artifact execution
func RecordExecution(environment string, runID string, artifactID string, result types.TestStatus) {
	if !result.Valid() {
		log.Error("RecordExecution - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "executions_total",
			"environment", environment,
			"run_id", runID,
			"artifact", artifactID,
			"result", result)
	}
	executionsTotal.WithLabelValues(environment, runID, artifactID, string(result)).Inc()
}

// RecordDownload records a dependency download attempt
func RecordDownload(binary string, transport string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	downloadsTotal.WithLabelValues(binary, transport, result).Inc()
}

// RecordBatch records the aggregate outcome of an execution batch
func RecordBatch(environment string, runID string, summary types.ExecutionSummary, duration time.Duration) {
	batchResults.WithLabelValues(environment, runID, fmt.Sprintf("%t", summary.Success)).Set(1)
	batchTestTotal.WithLabelValues(environment, runID).Add(float64(summary.TotalTests))
	batchTestPassed.WithLabelValues(environment, runID).Add(float64(summary.Passed))
	batchTestFailed.WithLabelValues(environment, runID).Add(float64(summary.Failed))
	batchDuration.WithLabelValues(environment, runID).Set(duration.Seconds())
}
