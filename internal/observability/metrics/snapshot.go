package metrics

import (
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is a point-in-time summary of the pipeline counters for the
// admin API.
type Snapshot struct {
	Messages          map[string]int64   `json:"messages"`
	Stages            map[string]int64   `json:"stages"`
	ClassifierCalls   int64              `json:"classifier_calls"`
	ClassifierP95Ms   map[string]float64 `json:"classifier_p95_ms"`
	ClassifierOutcome map[string]int64   `json:"classifier_outcomes"`
}

// TakeSnapshot reads the current values from gatherer.
func TakeSnapshot(gatherer prometheus.Gatherer) Snapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	snap := Snapshot{
		Messages:          map[string]int64{},
		Stages:            map[string]int64{},
		ClassifierP95Ms:   map[string]float64{},
		ClassifierOutcome: map[string]int64{},
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "fieldhand_pipeline_messages_total":
			sumCounters(mf, "status", snap.Messages)
		case "fieldhand_pipeline_stage_total":
			sumCounters(mf, "stage", snap.Stages)
		case "fieldhand_classifier_latency_seconds":
			for _, metric := range mf.Metric {
				h := metric.GetHistogram()
				if h == nil {
					continue
				}
				outcome := labelValue(metric, "outcome")
				snap.ClassifierCalls += int64(h.GetSampleCount())
				snap.ClassifierOutcome[outcome] += int64(h.GetSampleCount())
				if p95 := quantile(0.95, h); p95 > 0 {
					snap.ClassifierP95Ms[outcome] = p95 * 1000.0
				}
			}
		}
	}
	return snap
}

func sumCounters(mf *dto.MetricFamily, label string, into map[string]int64) {
	for _, metric := range mf.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		into[labelValue(metric, label)] += int64(metric.GetCounter().GetValue())
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// quantile returns the upper bound of the first bucket whose cumulative
// count reaches q of the samples.
func quantile(q float64, h *dto.Histogram) float64 {
	total := h.GetSampleCount()
	if total == 0 {
		return 0
	}
	buckets := append([]*dto.Bucket(nil), h.Bucket...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].GetUpperBound() < buckets[j].GetUpperBound() })

	target := uint64(math.Ceil(q * float64(total)))
	var lastFinite float64
	for _, b := range buckets {
		if b == nil {
			continue
		}
		upper := b.GetUpperBound()
		if math.IsInf(upper, 1) {
			break
		}
		lastFinite = upper
		if b.GetCumulativeCount() >= target {
			return upper
		}
	}
	return lastFinite
}
