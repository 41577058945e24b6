// Package metrics wraps the optional Prometheus collectors the accept
// loop, connection driver, and message queue report against. A nil
// *Collectors is always safe to call methods on: metrics are observed,
// never required for correct operation, per the server's "side channel"
// design.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors holds the server's Prometheus instruments. Construct with New
// and register into a caller-owned *prometheus.Registry; the zero value
// (*Collectors)(nil) is safe to use for every method below.
type Collectors struct {
	ActiveConnections prometheus.Gauge
	QueueDepth        prometheus.Gauge
	RequestsAccepted  prometheus.Counter
	ParseErrors       prometheus.Counter
}

// New builds a Collectors set and registers it into reg. reg may be nil, in
// which case the collectors are still usable but never exposed.
func New(reg *prometheus.Registry, namespace string) *Collectors {
	c := &Collectors{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently open connections.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_queue_depth",
			Help:      "Number of parsed requests waiting to be received by the embedder.",
		}),
		RequestsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_accepted_total",
			Help:      "Total number of requests successfully parsed.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of requests that failed to parse.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.ActiveConnections, c.QueueDepth, c.RequestsAccepted, c.ParseErrors)
	}
	return c
}

func (c *Collectors) ConnectionOpened() {
	if c == nil {
		return
	}
	c.ActiveConnections.Inc()
}

func (c *Collectors) ConnectionClosed() {
	if c == nil {
		return
	}
	c.ActiveConnections.Dec()
}

func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *Collectors) RequestAccepted() {
	if c == nil {
		return
	}
	c.RequestsAccepted.Inc()
}

func (c *Collectors) ParseError() {
	if c == nil {
		return
	}
	c.ParseErrors.Inc()
}
