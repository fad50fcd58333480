package observability

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromMetrics implements MetricsClient on a private Prometheus registry.
// Label names of a metric are fixed by its first observation.
type PromMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    *SLogger

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPromMetrics creates a Prometheus backed metrics client with Go and process collectors registered.
func NewPromMetrics(cfg Config, l *SLogger) *PromMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &PromMetrics{
		namespace: sanitizeMetricName(cfg.ServiceName),
		registry:  reg,
		logger:    l,
		counters:  make(map[string]*prometheus.CounterVec),
	}
}

// Handler exposes the registry in the Prometheus text format
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (p *PromMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Increment adds value to the counter called name
func (p *PromMetrics) Increment(_ context.Context, name string, value int64, attributes ...string) {
	labels := labelsFromTags(attributes)

	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      sanitizeMetricName(name),
			Help:      "Counter " + name,
		}, labelNames(labels))
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			p.logger.Errorf("Failed to register counter metric '%s': %v", name, err)
			return
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	counter, err := vec.GetMetricWith(labels)
	if err != nil {
		p.logger.Errorf("Failed to resolve counter metric '%s': %v", name, err)
		return
	}
	counter.Add(float64(value))
}

// RecordLatency observes duration on the request_duration_seconds histogram
func (p *PromMetrics) RecordLatency(_ context.Context, duration time.Duration, attributes ...string) error {
	labels := labelsFromTags(attributes)

	p.mu.Lock()
	if p.latency == nil {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of handled requests",
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("register latency histogram: %w", err)
		}
		p.latency = vec
	}
	vec := p.latency
	p.mu.Unlock()

	observer, err := vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("resolve latency histogram: %w", err)
	}
	observer.Observe(duration.Seconds())
	return nil
}

func labelsFromTags(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[sanitizeMetricName(tags[i])] = tags[i+1]
	}
	return labels
}

func labelNames(labels prometheus.Labels) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
