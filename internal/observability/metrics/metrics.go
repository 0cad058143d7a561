package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "outreach"

// JobMetrics exposes counters/histograms for scheduled jobs.
type JobMetrics struct {
	runsTotal    *prometheus.CounterVec
	itemsTotal   *prometheus.CounterVec
	skippedTicks *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total job invocations by result",
		}, []string{"job", "result"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "items_total",
			Help:      "Batch items processed by outcome",
		}, []string{"job", "outcome"}),
		skippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because the previous run was still active",
		}, []string{"job"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Wall time of job invocations",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.itemsTotal, m.skippedTicks, m.runDuration)
	return m
}

// ObserveRun records one finished invocation. result is ok, abandoned or panic.
func (m *JobMetrics) ObserveRun(job, result string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(job, result).Inc()
	m.runDuration.WithLabelValues(job).Observe(seconds)
}

func (m *JobMetrics) ObserveItems(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(job, outcome).Add(float64(n))
}

func (m *JobMetrics) ObserveSkippedTick(job string) {
	if m == nil {
		return
	}
	m.skippedTicks.WithLabelValues(job).Inc()
}

// JobStat is a point-in-time summary of one job's counters.
type JobStat struct {
	Job          string             `json:"job"`
	Runs         map[string]float64 `json:"runs"`
	Items        map[string]float64 `json:"items"`
	SkippedTicks float64            `json:"skipped_ticks"`
}

// SnapshotJobs reads the job counters back out of gatherer.
func SnapshotJobs(gatherer prometheus.Gatherer) ([]JobStat, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return nil, err
	}

	stats := map[string]*JobStat{}
	get := func(job string) *JobStat {
		s, ok := stats[job]
		if !ok {
			s = &JobStat{Job: job, Runs: map[string]float64{}, Items: map[string]float64{}}
			stats[job] = s
		}
		return s
	}

	for _, mf := range mfs {
		switch mf.GetName() {
		case namespace + "_jobs_runs_total":
			for _, metric := range mf.GetMetric() {
				get(labelValue(metric, "job")).Runs[labelValue(metric, "result")] += metric.GetCounter().GetValue()
			}
		case namespace + "_jobs_items_total":
			for _, metric := range mf.GetMetric() {
				get(labelValue(metric, "job")).Items[labelValue(metric, "outcome")] += metric.GetCounter().GetValue()
			}
		case namespace + "_jobs_skipped_ticks_total":
			for _, metric := range mf.GetMetric() {
				get(labelValue(metric, "job")).SkippedTicks += metric.GetCounter().GetValue()
			}
		}
	}

	out := make([]JobStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out, nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}
