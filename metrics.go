package casklog

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/generic"
)

// Counter is go-kit's counter, probably only need to use Add(1) though.
type Counter = metrics.Counter

// Metrics is used for tracking metrics.
type Metrics struct {
	RequestsHandled  Counter
	Appends          Counter
	CASConflicts     Counter
	RetriesExhausted Counter
	Commits          Counter
	Polls            Counter
	Forwarded        Counter
}

// NewMetrics returns metrics backed by in-process counters that can be read
// back with Value.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsHandled:  generic.NewCounter("requests_handled"),
		Appends:          generic.NewCounter("appends"),
		CASConflicts:     generic.NewCounter("cas_conflicts"),
		RetriesExhausted: generic.NewCounter("retries_exhausted"),
		Commits:          generic.NewCounter("commits"),
		Polls:            generic.NewCounter("polls"),
		Forwarded:        generic.NewCounter("forwarded"),
	}
}

// Value returns c's current value if it is an in-process counter, else 0.
func Value(c Counter) float64 {
	if g, ok := c.(*generic.Counter); ok {
		return g.Value()
	}
	return 0
}
