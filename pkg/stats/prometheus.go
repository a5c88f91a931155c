package stats

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counts resolutions in its own registry.
type Prometheus struct {
	registry    *prometheus.Registry
	resolutions *prometheus.CounterVec
	animals     *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpet",
			Name:      "resolutions_total",
			Help:      "Resolved requests by fallback ladder outcome.",
		}, []string{"kind"}),
		animals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpet",
			Name:      "animal_requests_total",
			Help:      "Resolved requests by registered animal.",
		}, []string{"animal"}),
	}
	p.registry.MustRegister(
		p.resolutions,
		p.animals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Record(_ context.Context, ev Event) error {
	p.resolutions.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Animal != "" {
		p.animals.WithLabelValues(ev.Animal).Inc()
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
