package broker

import (
	"bytes"
	"context"
	"regexp"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/codec"
	"github.com/casklog/casklog/commits"
	"github.com/casklog/casklog/config"
	"github.com/casklog/casklog/coordinator"
	"github.com/casklog/casklog/log"
	"github.com/casklog/casklog/protocol"
	"github.com/casklog/casklog/shard"
	"github.com/casklog/casklog/store"
	"github.com/casklog/casklog/util"
)

const maxTopicLength = 249

var (
	brokerVerboseLogs = util.Verbose("broker")

	topicPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Broker serves the log operations of one node. All state lives in the
// shared store, so any number of brokers may serve the same topics.
type Broker struct {
	config  *config.Config
	coord   *coordinator.Coordinator
	commits *commits.Tracker
	router  *shard.Router
	metrics *casklog.Metrics
	tracer  opentracing.Tracer
	logger  log.Logger
}

type Option func(*Broker)

func Metrics(m *casklog.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

func Logger(l log.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Router routes sends and polls for topics owned by other nodes through r.
func Router(r *shard.Router) Option {
	return func(b *Broker) { b.router = r }
}

// New returns a broker over stores. The tracer may be opentracing's no-op
// tracer.
func New(cfg *config.Config, stores store.Stores, tracer opentracing.Tracer, opts ...Option) (*Broker, error) {
	b := &Broker{
		config:  cfg,
		metrics: casklog.NewMetrics(),
		tracer:  tracer,
		logger:  log.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(log.String("node", cfg.NodeID))

	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}
	layout, err := coordinator.NewLayout(cfg, stores.Linear, stores.Aux, c, b.logger)
	if err != nil {
		return nil, err
	}
	b.coord = coordinator.New(layout,
		coordinator.MaxRetries(cfg.MaxRetries),
		coordinator.MaxPollEntries(cfg.MaxPollEntries),
		coordinator.Metrics(b.metrics),
		coordinator.Logger(b.logger),
	)
	b.commits = commits.New(stores.Linear, b.coord,
		commits.MaxRetries(cfg.MaxRetries),
		commits.Metrics(b.metrics),
		commits.Logger(b.logger),
	)
	b.logger.Info("broker: started",
		log.String("layout", layout.Name()),
		log.Bool("sharding", b.router != nil),
		log.Int("max retries", cfg.MaxRetries),
	)
	return b, nil
}

// Broker API.

// Send appends req.Msg to topic req.Key and returns the offset it was given.
func (b *Broker) Send(ctx context.Context, req *protocol.SendRequest) (*protocol.SendResponse, error) {
	sp, ctx := b.span(ctx, "send")
	defer sp.Finish()
	b.metrics.RequestsHandled.Add(1)
	if brokerVerboseLogs {
		b.logger.Debug("broker: send", log.String("request", util.Dump(req)))
	}

	if err := validateTopic("key", req.Key); err != nil {
		return nil, err
	}
	msg := bytes.TrimSpace(req.Msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, casklog.InvalidRequest("msg", "must not be empty")
	}
	sp.SetTag("topic", req.Key)

	if owner, ok := b.remoteOwner(req.Key, req.Forwarded); ok {
		fwd := *req
		fwd.Type = protocol.SendType
		fwd.Forwarded = true
		res := new(protocol.SendResponse)
		if err := b.forward(ctx, owner, protocol.SendType, &fwd, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	offset, err := b.coord.Append(ctx, req.Key, casklog.Message(msg))
	if err != nil {
		return nil, err
	}
	sp.SetTag("offset", offset)
	return &protocol.SendResponse{Type: protocol.SendOKType, Offset: offset}, nil
}

// Poll returns, for each requested topic, its entries from the requested
// offset on. Every requested topic is present in the reply, possibly with
// no entries.
func (b *Broker) Poll(ctx context.Context, req *protocol.PollRequest) (*protocol.PollResponse, error) {
	sp, ctx := b.span(ctx, "poll")
	defer sp.Finish()
	b.metrics.RequestsHandled.Add(1)
	if brokerVerboseLogs {
		b.logger.Debug("broker: poll", log.String("request", util.Dump(req)))
	}

	for topic := range req.Offsets {
		if err := validateTopic("offsets", topic); err != nil {
			return nil, err
		}
	}

	res := &protocol.PollResponse{
		Type: protocol.PollOKType,
		Msgs: make(map[string][]casklog.Entry, len(req.Offsets)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for owner, offsets := range b.split(req.Offsets, req.Forwarded) {
		owner, offsets := owner, offsets
		if owner != "" {
			g.Go(func() error {
				fwd := &protocol.PollRequest{Type: protocol.PollType, Offsets: offsets, Forwarded: true}
				out := new(protocol.PollResponse)
				if err := b.forward(gctx, owner, protocol.PollType, fwd, out); err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for topic, entries := range out.Msgs {
					res.Msgs[topic] = entries
				}
				return nil
			})
			continue
		}
		for topic, from := range offsets {
			topic, from := topic, from
			g.Go(func() error {
				entries, err := b.coord.Poll(gctx, topic, from)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []casklog.Entry{}
				}
				mu.Lock()
				defer mu.Unlock()
				res.Msgs[topic] = entries
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// CommitOffsets records the offsets consumers have processed up to. Commits
// share one store value for all topics, so they are always served locally.
func (b *Broker) CommitOffsets(ctx context.Context, req *protocol.CommitOffsetsRequest) (*protocol.CommitOffsetsResponse, error) {
	sp, ctx := b.span(ctx, "commit_offsets")
	defer sp.Finish()
	b.metrics.RequestsHandled.Add(1)
	if brokerVerboseLogs {
		b.logger.Debug("broker: commit offsets", log.String("request", util.Dump(req)))
	}

	for topic := range req.Offsets {
		if err := validateTopic("offsets", topic); err != nil {
			return nil, err
		}
	}
	if err := b.commits.Commit(ctx, req.Offsets); err != nil {
		return nil, err
	}
	return &protocol.CommitOffsetsResponse{Type: protocol.CommitOffsetsOKType}, nil
}

// ListCommittedOffsets returns the committed offsets of the requested topics.
// Topics never committed are left out.
func (b *Broker) ListCommittedOffsets(ctx context.Context, req *protocol.ListCommittedOffsetsRequest) (*protocol.ListCommittedOffsetsResponse, error) {
	sp, ctx := b.span(ctx, "list_committed_offsets")
	defer sp.Finish()
	b.metrics.RequestsHandled.Add(1)

	for _, topic := range req.Keys {
		if err := validateTopic("keys", topic); err != nil {
			return nil, err
		}
	}
	offsets, err := b.commits.List(ctx, req.Keys)
	if err != nil {
		return nil, err
	}
	return &protocol.ListCommittedOffsetsResponse{Type: protocol.ListCommittedOffsetsOKType, Offsets: offsets}, nil
}

// Metrics returns the counters this broker updates.
func (b *Broker) Metrics() *casklog.Metrics {
	return b.metrics
}

// remoteOwner returns topic's owner when the request must be forwarded to it.
func (b *Broker) remoteOwner(topic string, forwarded bool) (string, bool) {
	if b.router == nil || forwarded || b.router.IsLocal(topic) {
		return "", false
	}
	return b.router.Owner(topic), true
}

// split groups offsets by the node serving them. Topics served here are
// grouped under "".
func (b *Broker) split(offsets map[string]uint64, forwarded bool) map[string]map[string]uint64 {
	if b.router == nil || forwarded {
		return map[string]map[string]uint64{"": offsets}
	}
	groups := shard.Split(b.router, offsets)
	if local, ok := groups[b.router.Self]; ok {
		delete(groups, b.router.Self)
		groups[""] = local
	}
	return groups
}

func (b *Broker) forward(ctx context.Context, node, typ string, body, out interface{}) error {
	b.metrics.Forwarded.Add(1)
	if brokerVerboseLogs {
		b.logger.Debug("broker: forward", log.String("to", node), log.String("type", typ))
	}
	if err := b.router.Forwarder.Forward(ctx, node, typ, body, out); err != nil {
		return errors.Wrapf(err, "forward %s to %s", typ, node)
	}
	return nil
}

func (b *Broker) span(ctx context.Context, op string) (opentracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	sp := b.tracer.StartSpan("broker: "+op, opts...)
	sp.SetTag("node", b.config.NodeID)
	return sp, opentracing.ContextWithSpan(ctx, sp)
}

func validateTopic(field, topic string) error {
	switch {
	case topic == "":
		return casklog.InvalidRequest(field, "topic must not be empty")
	case len(topic) > maxTopicLength:
		return casklog.InvalidRequest(field, "topic %.20q... is longer than %d characters", topic, maxTopicLength)
	case !topicPattern.MatchString(topic):
		return casklog.InvalidRequest(field, "topic %q may only contain [a-zA-Z0-9._-]", topic)
	}
	return nil
}
