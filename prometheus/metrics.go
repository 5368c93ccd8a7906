package prometheus

import (
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/casklog/casklog"
)

// NewMetrics returns broker metrics exported through r.
func NewMetrics(r prometheus.Registerer) *casklog.Metrics {
	return &casklog.Metrics{
		RequestsHandled:  counter(r, "requests_handled", "Number of requests handled by the broker."),
		Appends:          counter(r, "appends", "Number of messages appended to topic logs."),
		CASConflicts:     counter(r, "cas_conflicts", "Number of compare-and-swap rounds lost to another writer."),
		RetriesExhausted: counter(r, "retries_exhausted", "Number of operations that lost every compare-and-swap round allowed."),
		Commits:          counter(r, "commits", "Number of commit requests applied."),
		Polls:            counter(r, "polls", "Number of topic logs read by polls."),
		Forwarded:        counter(r, "forwarded", "Number of requests forwarded to the owning node."),
	}
}

func counter(r prometheus.Registerer, name, help string) *kitprometheus.Counter {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casklog",
		Subsystem: "broker",
		Name:      name,
		Help:      help,
	}, []string{})
	r.MustRegister(cv)
	return kitprometheus.NewCounter(cv)
}
