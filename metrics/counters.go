package metrics

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	CountTotal  = "total"
	CountErrors = "errors"

	labelLogGroup  = "log_group"
	labelCountType = "count_type"
)

// Count is the value of one counter for one log group
type Count struct {
	LogGroup  string
	CountType string
	Value     float64
}

// Counters tracks per log group event counts for a single invocation.
// Each instance has its own registry so counts never leak between invocations.
type Counters struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func NewCounters() *Counters {
	opts := prometheus.CounterOpts{}
	opts.Namespace = "firehose_processor"
	opts.Name = "log_events"
	opts.Help = "log events seen, by log group and count type"
	events := prometheus.NewCounterVec(opts, []string{labelLogGroup, labelCountType})

	registry := prometheus.NewRegistry()
	registry.MustRegister(events)
	return &Counters{registry: registry, events: events}
}

// Observe counts one event for logGroup, and one error if notified is set
func (c *Counters) Observe(logGroup string, notified bool) {
	c.events.WithLabelValues(logGroup, CountTotal).Inc()
	errors := c.events.WithLabelValues(logGroup, CountErrors)
	if notified {
		errors.Inc()
	}
}

// Report returns every counter, sorted by log group then count type
func (c *Counters) Report() ([]Count, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather counters: %w", err)
	}

	var counts []Count
	for _, family := range families {
		for _, m := range family.GetMetric() {
			counts = append(counts, Count{
				LogGroup:  labelValue(m, labelLogGroup),
				CountType: labelValue(m, labelCountType),
				Value:     m.GetCounter().GetValue(),
			})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].LogGroup != counts[j].LogGroup {
			return counts[i].LogGroup < counts[j].LogGroup
		}
		return counts[i].CountType < counts[j].CountType
	})
	return counts, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// TotalsByType sums counts across log groups
func TotalsByType(counts []Count) map[string]float64 {
	totals := make(map[string]float64)
	for _, c := range counts {
		totals[c.CountType] += c.Value
	}
	return totals
}
