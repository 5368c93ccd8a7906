package coordinator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/config"
	"github.com/casklog/casklog/log"
)

// Layout decides how a topic's log is laid out in the store. The coordinator
// owns the retry loop; a layout only makes single attempts.
type Layout interface {
	Name() string
	// tryAppend makes one attempt to append msg. It returns ErrCASConflict
	// when another writer won the round. a carries state between attempts of
	// the same append.
	tryAppend(ctx context.Context, topic string, msg casklog.Message, a *attempt) (uint64, error)
	// appended runs once after a successful attempt.
	appended(ctx context.Context, topic string, offset uint64)
	read(ctx context.Context, topic string, from uint64, limit int) ([]casklog.Entry, error)
	length(ctx context.Context, topic string) (uint64, error)
}

type attempt struct {
	n     int
	probe uint64
}

// Coordinator appends to and polls topic logs, retrying lost CAS rounds up to
// a fixed budget.
type Coordinator struct {
	layout         Layout
	maxRetries     int
	maxPollEntries int
	metrics        *casklog.Metrics
	logger         log.Logger
}

type Option func(*Coordinator)

// MaxRetries bounds the CAS rounds a single append may lose.
func MaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// MaxPollEntries bounds the entries returned per topic by Poll. 0 is unlimited.
func MaxPollEntries(n int) Option {
	return func(c *Coordinator) { c.maxPollEntries = n }
}

func Metrics(m *casklog.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func Logger(l log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(layout Layout, opts ...Option) *Coordinator {
	c := &Coordinator{
		layout:     layout,
		maxRetries: config.DefaultMaxRetries,
		metrics:    casklog.NewMetrics(),
		logger:     log.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(log.String("layout", layout.Name()))
	return c
}

// Append adds msg to the end of topic's log and returns its offset.
func (c *Coordinator) Append(ctx context.Context, topic string, msg casklog.Message) (uint64, error) {
	a := &attempt{}
	for ; a.n <= c.maxRetries; a.n++ {
		offset, err := c.layout.tryAppend(ctx, topic, msg, a)
		if err == nil {
			c.metrics.Appends.Add(1)
			c.layout.appended(ctx, topic, offset)
			return offset, nil
		}
		if !errors.Is(err, casklog.ErrCASConflict) {
			c.logger.Error("coordinator: append failed", log.String("topic", topic), log.Error("error", err))
			return 0, err
		}
		c.metrics.CASConflicts.Add(1)
		c.logger.Debug("coordinator: append conflict", log.String("topic", topic), log.Int("attempt", a.n))
	}
	c.metrics.RetriesExhausted.Add(1)
	c.logger.Info("coordinator: retry budget exhausted", log.String("topic", topic), log.Int("retries", c.maxRetries))
	return 0, errors.Wrapf(casklog.ErrRetryBudgetExceeded, "append to %s", topic)
}

// Poll returns topic's entries with offsets at or above from, in order.
func (c *Coordinator) Poll(ctx context.Context, topic string, from uint64) ([]casklog.Entry, error) {
	entries, err := c.layout.read(ctx, topic, from, c.maxPollEntries)
	if err != nil {
		return nil, err
	}
	c.metrics.Polls.Add(1)
	return entries, nil
}

// Length returns the number of entries in topic's log.
func (c *Coordinator) Length(ctx context.Context, topic string) (uint64, error) {
	return c.layout.length(ctx, topic)
}

// NewLayout builds the layout named in cfg.
func NewLayout(cfg *config.Config, linear, aux casklog.Store, codec casklog.Codec, logger log.Logger) (Layout, error) {
	switch cfg.Layout {
	case config.LayoutBlob:
		return NewBlobLayout(linear, codec), nil
	case config.LayoutEntry:
		return NewEntryLayout(linear, aux, logger), nil
	}
	return nil, errors.Errorf("unknown layout %q", cfg.Layout)
}
