// Package stats is the single-owner results aggregator: one goroutine
// (the dispatcher's report-consumer loop) owns a Stats value and folds
// every patch's RunReport into it, so the type itself needs no locking.
// It also exports Prometheus counters/gauges for external scraping and
// keeps an attempt-duration distribution via gohistogram.
package stats

import (
	"path/filepath"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"

	"patchgrader/internal/model"
)

// Stats accumulates counts across every patch processed in this run. Not
// safe for concurrent use; callers must serialize updates.
type Stats struct {
	solutions          int
	buildsFailed       int
	testFailures       map[string]int
	internalErrors     map[string]struct{}
	reportSaveFailures int

	attemptDurations *gohistogram.NumericHistogram

	solutionsTotal          prometheus.Counter
	buildsFailedTotal       prometheus.Counter
	testFailuresTotal       *prometheus.CounterVec
	internalErrsGauge       prometheus.Gauge
	reportSaveFailuresTotal prometheus.Counter
}

// New constructs a Stats with its Prometheus metrics registered under the
// "patchgrader" namespace and a 20-bucket attempt-duration histogram.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		testFailures:     make(map[string]int),
		internalErrors:   make(map[string]struct{}),
		attemptDurations: gohistogram.NewHistogram(20),
		solutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchgrader",
			Name:      "solutions_total",
			Help:      "Total number of patches processed.",
		}),
		buildsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchgrader",
			Name:      "builds_failed_total",
			Help:      "Total number of patches whose build scenario failed.",
		}),
		testFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchgrader",
			Name:      "test_failures_total",
			Help:      "Total number of failed runs per named test scenario.",
		}, []string{"test"}),
		internalErrsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patchgrader",
			Name:      "internal_errors",
			Help:      "Number of patches that failed with a framework error rather than a test verdict.",
		}),
		reportSaveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchgrader",
			Name:      "report_save_failures_total",
			Help:      "Total number of patches whose structured report or verdict line failed to write.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.solutionsTotal, s.buildsFailedTotal, s.testFailuresTotal, s.internalErrsGauge, s.reportSaveFailuresTotal)
	}
	return s
}

// Update folds one patch's outcome into the aggregate: a successful run
// (even one with failing tests) increments the per-test failure counters;
// a framework error instead records the solution path in the
// internal-errors set.
func (s *Stats) Update(patchPath string, report *model.RunReport, runErr error) {
	s.solutions++
	s.solutionsTotal.Inc()

	if runErr != nil {
		s.internalErrors[patchPath] = struct{}{}
		s.internalErrsGauge.Set(float64(len(s.internalErrors)))
		return
	}

	if !report.Build.Success() {
		s.buildsFailed++
		s.buildsFailedTotal.Inc()
	}
	for name, tr := range report.Tests {
		if !tr.Success() {
			s.testFailures[name]++
			s.testFailuresTotal.WithLabelValues(name).Inc()
		}
	}

	for _, attempt := range report.Build.Attempts {
		s.recordAttempt(attempt)
	}
	for _, tr := range report.Tests {
		for _, attempt := range tr.Attempts {
			s.recordAttempt(attempt)
		}
	}
}

// RecordReportSaveFailure counts a patch whose result could not be written
// to the results stream or the reports directory, once its verdict was
// otherwise known.
func (s *Stats) RecordReportSaveFailure() {
	s.reportSaveFailures++
	s.reportSaveFailuresTotal.Inc()
}

func (s *Stats) recordAttempt(attempt model.Attempt) {
	var elapsed time.Duration
	for _, r := range attempt.Reports {
		for _, a := range r.Actions {
			elapsed += a.Elapsed
		}
	}
	s.attemptDurations.Add(elapsed.Seconds())
}

// Solutions returns the total number of patches processed so far.
func (s *Stats) Solutions() int { return s.solutions }

// BuildsFailed returns how many patches' build scenario did not succeed.
func (s *Stats) BuildsFailed() int { return s.buildsFailed }

// TestFailures returns the per-test-scenario failure counts accumulated so
// far. The returned map is owned by the caller's read; do not mutate it
// concurrently with further Update calls.
func (s *Stats) TestFailures() map[string]int { return s.testFailures }

// InternalErrors returns the set of patch paths (by base filename) that
// failed with a framework error rather than a verdict.
func (s *Stats) InternalErrors() []string {
	out := make([]string, 0, len(s.internalErrors))
	for p := range s.internalErrors {
		out = append(out, filepath.Base(p))
	}
	return out
}

// ReportSaveFailures returns how many patches had a known verdict that
// failed to reach the results stream or reports directory.
func (s *Stats) ReportSaveFailures() int { return s.reportSaveFailures }

// AttemptDurationQuantile returns the approximate q-quantile (0..1) of
// recorded attempt durations, in seconds.
func (s *Stats) AttemptDurationQuantile(q float64) float64 {
	return s.attemptDurations.Quantile(q)
}
