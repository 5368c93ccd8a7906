package server

import "github.com/prometheus/client_golang/prometheus"

type serverMetrics struct {
	requestsHandled *prometheus.CounterVec
}

func newServerMetrics(r prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casklog",
			Subsystem: "http",
			Name:      "requests_handled",
			Help:      "Number of HTTP requests handled by the server, by type and status code.",
		}, []string{"type", "code"}),
	}
	if r != nil {
		r.MustRegister(
			m.requestsHandled,
		)
	}
	return m
}
