package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("ingestion-sync", 250*time.Millisecond, nil)
	m.ObserveRun("ingestion-sync", time.Second, errors.New("boom"))
	m.ObserveRun("ingestion-sync", time.Second, nil)
	m.IncUserFailure("ingestion-sync")

	mfs := gather(t, reg)

	if got := sample(t, mfs, "cron_job_runs_total", "job", "ingestion-sync", "result", "success").GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 successful runs, got %f", got)
	}
	if got := sample(t, mfs, "cron_job_runs_total", "job", "ingestion-sync", "result", "failure").GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 failed run, got %f", got)
	}
	if got := sample(t, mfs, "cron_job_user_failures_total", "job", "ingestion-sync").GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 user failure, got %f", got)
	}
	hist := sample(t, mfs, "cron_job_duration_seconds", "job", "ingestion-sync").GetHistogram()
	if hist.GetSampleCount() != 3 || hist.GetSampleSum() < 2.2 {
		t.Fatalf("unexpected histogram count=%d sum=%f", hist.GetSampleCount(), hist.GetSampleSum())
	}
}

func TestCronJobMetricsWithoutRegistry(t *testing.T) {
	var nilMetrics *CronJobMetrics
	nilMetrics.ObserveRun("x", time.Second, nil)
	nilMetrics.IncUserFailure("x")

	m := NewCronJobMetrics(nil)
	m.ObserveRun("", time.Second, errors.New("boom"))
	m.IncUserFailure("")
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

// sample returns the series of family name whose labels include every
// name/value pair in labels.
func sample(t *testing.T, mfs []*dto.MetricFamily, name string, labels ...string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric
			}
		}
		t.Fatalf("metric %q has no series with labels %v", name, labels)
	}
	t.Fatalf("metric %q not found", name)
	return nil
}

func hasLabels(pairs []*dto.LabelPair, want []string) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == want[i] && pair.GetValue() == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
