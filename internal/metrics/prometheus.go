package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "arb_exec_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		Enqueued:     promCounter{counter("opportunities_enqueued_total", "Total opportunities accepted into the admission queue.")},
		Deduped:      promCounter{counter("opportunities_deduped_total", "Total opportunities rejected as duplicates.")},
		Dropped:      promCounter{counter("opportunities_dropped_total", "Total opportunities dropped for queue capacity.")},
		Expired:      promCounter{counter("opportunities_expired_total", "Total opportunities expired before submission.")},
		Rejected:     promCounter{counter("opportunities_rejected_total", "Total opportunities rejected by risk or breaker gates.")},
		Executed:     promCounter{counter("opportunities_executed_total", "Total opportunities executed successfully.")},
		Failed:       promCounter{counter("opportunities_failed_total", "Total opportunities that failed during execution.")},
		Retries:      promCounter{counter("collaborator_retries_total", "Total retried collaborator calls.")},
		MEVProtected: promCounter{counter("mev_protected_total", "Total submissions with an MEV countermeasure applied.")},
		BreakerOpen:  promCounter{counter("breaker_opened_total", "Total circuit breaker open transitions.")},
		BreakerClose: promCounter{counter("breaker_closed_total", "Total circuit breaker close transitions.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
