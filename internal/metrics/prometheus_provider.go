package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusProviderOptions configures the registry NewPrometheusProvider
// creates its metrics on.
type PrometheusProviderOptions struct {
	// Registry is used if non-nil; otherwise a fresh prometheus.Registry is
	// created so this provider never pollutes prometheus.DefaultRegisterer.
	Registry *prometheus.Registry
}

// NewPrometheusProvider returns a Provider backed by a prometheus.Registry,
// along with the Gatherer the out-of-scope REST façade scrapes.
func NewPrometheusProvider(opts PrometheusProviderOptions) (Provider, Gatherer) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &promProvider{reg: reg}
	return p, p
}

type promProvider struct {
	reg *prometheus.Registry
}

func (p *promProvider) NewCounter(opts CounterOpts) Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name: opts.Name,
		Help: opts.Help,
	}, opts.Labels)
	p.reg.MustRegister(vec)
	return &promCounter{vec: vec}
}

func (p *promProvider) NewGauge(opts GaugeOpts) Gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name: opts.Name,
		Help: opts.Help,
	}, opts.Labels)
	p.reg.MustRegister(vec)
	return &promGauge{vec: vec}
}

func (p *promProvider) NewHistogram(opts HistogramOpts) Histogram {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name: opts.Name,
		Help: opts.Help,
		Buckets: opts.Buckets,
	}, opts.Labels)
	p.reg.MustRegister(vec)
	return &promHistogram{vec: vec}
}

func (p *promProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &promTimer{h: hist, start: time.Now()} }
}

func (p *promProvider) Health(context.Context) error { return nil }

// Gather flattens the registry's scrape into Provider-agnostic
// MetricFamily/Sample values.
func (p *promProvider) Gather() ([]*MetricFamily, error) {
	families, err := p.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	out := make([]*MetricFamily, 0, len(families))
	for _, f := range families {
		mf := &MetricFamily{Name: f.GetName(), Help: f.GetHelp()}
		for _, m := range f.GetMetric() {
			mf.Samples = append(mf.Samples, Sample{
				Labels: labelMap(m.GetLabel()),
				Value: metricValue(m),
			})
		}
		out = append(out, mf)
	}
	return out, nil
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, lp := range pairs {
		m[lp.GetName()] = lp.GetValue()
	}
	return m
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return m.Histogram.GetSampleSum()
	default:
		return 0
	}
}

type promCounter struct{ vec *prometheus.CounterVec }

func (c *promCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct{ vec *prometheus.GaugeVec }

func (g *promGauge) Set(v float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(v) }
func (g *promGauge) Add(delta float64, labels ...string) { g.vec.WithLabelValues(labels...).Add(delta) }

type promHistogram struct{ vec *prometheus.HistogramVec }

func (h *promHistogram) Observe(v float64, labels ...string) {
	h.vec.WithLabelValues(labels...).Observe(v)
}

type promTimer struct {
	h Histogram
	start time.Time
}

func (t *promTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}
