package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider adapts Provider onto a prometheus.Registerer, letting a
// process export the same Counter/UpDownCounter/Histogram calls the rest of
// the runtime already makes through /metrics. Each InstrumentConfig's
// Attributes become the metric's ConstLabels at creation time, since this
// Provider's instruments (unlike a label-vector metric) are each a single
// bound timeseries, not a family.
type PrometheusProvider struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheusCounter
	updowns    map[string]*prometheusUpDownCounter
	histograms map[string]*prometheusHistogram
}

// NewPrometheusProvider wraps reg (typically prometheus.DefaultRegisterer).
func NewPrometheusProvider(reg prometheus.Registerer) *PrometheusProvider {
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prometheusCounter),
		updowns:    make(map[string]*prometheusUpDownCounter),
		histograms: make(map[string]*prometheusHistogram),
	}
}

func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	cfg := applyOptions(opts)
	vec := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        promName(name),
		Help:        helpOrDefault(cfg.Description, name),
		ConstLabels: prometheus.Labels(cfg.Attributes),
	})
	p.reg.MustRegister(vec)
	c := &prometheusCounter{c: vec}
	p.counters[name] = c
	return c
}

func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.updowns[name]; ok {
		return u
	}
	cfg := applyOptions(opts)
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        promName(name),
		Help:        helpOrDefault(cfg.Description, name),
		ConstLabels: prometheus.Labels(cfg.Attributes),
	})
	p.reg.MustRegister(g)
	u := &prometheusUpDownCounter{g: g}
	p.updowns[name] = u
	return u
}

func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h
	}
	cfg := applyOptions(opts)
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        promName(name),
		Help:        helpOrDefault(cfg.Description, name),
		ConstLabels: prometheus.Labels(cfg.Attributes),
		Buckets:     prometheus.DefBuckets,
	})
	p.reg.MustRegister(h)
	wrapped := &prometheusHistogram{h: h}
	p.histograms[name] = wrapped
	return wrapped
}

func helpOrDefault(desc, name string) string {
	if desc != "" {
		return desc
	}
	return name
}

// promName maps the runtime's dotted instrument names onto Prometheus's
// [a-zA-Z_:][a-zA-Z0-9_:]* name grammar. The provider's own maps stay keyed
// by the original dotted name.
func promName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

type prometheusCounter struct{ c prometheus.Counter }

func (c *prometheusCounter) Add(n int64) { c.c.Add(float64(n)) }

type prometheusUpDownCounter struct{ g prometheus.Gauge }

func (u *prometheusUpDownCounter) Add(n int64) { u.g.Add(float64(n)) }

type prometheusHistogram struct{ h prometheus.Histogram }

func (h *prometheusHistogram) Record(v float64) { h.h.Observe(v) }
