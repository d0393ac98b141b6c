package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics counts what the ingestion, merge, and insight stages produce.
type PipelineMetrics struct {
	facts     *prometheus.CounterVec
	fetchErrs *prometheus.CounterVec
	merged    prometheus.Counter
	insights  *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline counters on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	facts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_facts_total",
		Help: "Subscription facts extracted per channel.",
	}, []string{"channel"})
	fetchErrs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_fetch_errors_total",
		Help: "Channel fetches that failed against the external provider.",
	}, []string{"channel"})
	merged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_merged_total",
		Help: "Duplicate subscription records merged away.",
	})
	insights := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_created_total",
		Help: "Insights created by type.",
	}, []string{"type"})
	reg.MustRegister(facts, fetchErrs, merged, insights)
	return &PipelineMetrics{
		facts:     facts,
		fetchErrs: fetchErrs,
		merged:    merged,
		insights:  insights,
	}
}

// AddFacts records n facts extracted from channel.
func (p *PipelineMetrics) AddFacts(channel string, n int) {
	if p == nil || p.facts == nil || n <= 0 {
		return
	}
	p.facts.WithLabelValues(normalizeLabel(channel)).Add(float64(n))
}

// IncFetchError records a failed provider fetch.
func (p *PipelineMetrics) IncFetchError(channel string) {
	if p == nil || p.fetchErrs == nil {
		return
	}
	p.fetchErrs.WithLabelValues(normalizeLabel(channel)).Inc()
}

// AddMerged records n records removed by a merge pass.
func (p *PipelineMetrics) AddMerged(n int) {
	if p == nil || p.merged == nil || n <= 0 {
		return
	}
	p.merged.Add(float64(n))
}

// IncInsight records one created insight of the given type.
func (p *PipelineMetrics) IncInsight(kind string) {
	if p == nil || p.insights == nil {
		return
	}
	p.insights.WithLabelValues(normalizeLabel(kind)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
