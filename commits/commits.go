// Package commits tracks consumer committed offsets for every topic in a
// single shared store value.
package commits

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/config"
	"github.com/casklog/casklog/log"
)

// Key is the store key holding the committed offset map.
const Key = "commits"

// Lengther reports the current length of a topic's log.
type Lengther interface {
	Length(ctx context.Context, topic string) (uint64, error)
}

type Tracker struct {
	store      casklog.Store
	lengths    Lengther
	maxRetries int
	metrics    *casklog.Metrics
	logger     log.Logger
}

type Option func(*Tracker)

func MaxRetries(n int) Option {
	return func(t *Tracker) { t.maxRetries = n }
}

func Metrics(m *casklog.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func Logger(l log.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(store casklog.Store, lengths Lengther, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		lengths:    lengths,
		maxRetries: config.DefaultMaxRetries,
		metrics:    casklog.NewMetrics(),
		logger:     log.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Commit raises the committed offset of each topic to the requested one.
// Offsets beyond a topic's log are lowered to its length first, and an
// offset below the current commit leaves it unchanged.
func (t *Tracker) Commit(ctx context.Context, offsets map[string]uint64) error {
	if len(offsets) == 0 {
		return nil
	}
	want := make(map[string]uint64, len(offsets))
	for topic, offset := range offsets {
		n, err := t.lengths.Length(ctx, topic)
		if err != nil {
			return err
		}
		if offset > n {
			t.logger.Debug("commits: clamped offset", log.String("topic", topic), log.Uint64("requested", offset), log.Uint64("length", n))
			offset = n
		}
		want[topic] = offset
	}

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		cur, committed, err := t.load(ctx)
		if err != nil {
			return err
		}
		if !merge(committed, want) {
			t.metrics.Commits.Add(1)
			return nil
		}
		next, err := json.Marshal(committed)
		if err != nil {
			return errors.Wrap(err, "encode commits")
		}
		err = t.store.CompareAndSwap(ctx, Key, cur, next)
		if err == nil {
			t.metrics.Commits.Add(1)
			return nil
		}
		if !errors.Is(err, casklog.ErrCASConflict) {
			t.logger.Error("commits: commit failed", log.Error("error", err))
			return err
		}
		t.metrics.CASConflicts.Add(1)
	}
	t.metrics.RetriesExhausted.Add(1)
	return errors.Wrap(casklog.ErrRetryBudgetExceeded, "commit offsets")
}

// List returns the committed offsets of topics. Topics never committed are
// left out.
func (t *Tracker) List(ctx context.Context, topics []string) (map[string]uint64, error) {
	_, committed, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	offsets := make(map[string]uint64, len(topics))
	for _, topic := range topics {
		if offset, ok := committed[topic]; ok {
			offsets[topic] = offset
		}
	}
	return offsets, nil
}

func (t *Tracker) load(ctx context.Context) ([]byte, map[string]uint64, error) {
	cur, err := t.store.Read(ctx, Key)
	if err != nil {
		return nil, nil, err
	}
	committed := make(map[string]uint64)
	if cur == nil {
		return nil, committed, nil
	}
	if err := json.Unmarshal(cur, &committed); err != nil {
		return nil, nil, errors.Wrap(err, "decode commits")
	}
	return cur, committed, nil
}

// merge raises committed to want per topic and reports whether anything
// changed.
func merge(committed, want map[string]uint64) bool {
	changed := false
	for topic, offset := range want {
		if cur, ok := committed[topic]; !ok || offset > cur {
			committed[topic] = offset
			changed = true
		}
	}
	return changed
}
