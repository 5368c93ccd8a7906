package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/consul/api"
	multierror "github.com/hashicorp/go-multierror"
	maelstrom "github.com/jepsen-io/maelstrom/demo/go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	redis "gopkg.in/redis.v5"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/config"
)

// pingKey is read at start-up to check the store answers. It is never written.
const pingKey = "casklog/ping"

// Stores holds the two store roles a node uses. Linear backs topic logs and
// the commit map; Aux only holds hints that may be stale.
type Stores struct {
	Linear casklog.Store
	Aux    casklog.Store
}

// Close closes both stores, once if they are the same.
func (s Stores) Close() error {
	var result *multierror.Error
	if s.Linear != nil {
		if err := s.Linear.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.Aux != nil && s.Aux != s.Linear {
		if err := s.Aux.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Traced returns s with both roles wrapped in spans from tracer.
func (s Stores) Traced(tracer opentracing.Tracer) Stores {
	t := Stores{Linear: NewTraced(s.Linear, tracer, "linear")}
	if s.Aux == s.Linear {
		t.Aux = t.Linear
	} else {
		t.Aux = NewTraced(s.Aux, tracer, "aux")
	}
	return t
}

// Open builds the configured backend. Every backend except maelstrom's is
// linearizable, so both roles share it. Maelstrom stores need a running node
// and are built with OpenMaelstrom instead.
func Open(cfg config.StoreConfig) (Stores, error) {
	var s casklog.Store
	switch cfg.Backend {
	case config.StoreMemory:
		db, err := NewMemDB()
		if err != nil {
			return Stores{}, err
		}
		s = db
	case config.StoreLevelDB:
		db, err := NewLevelDB(cfg.LevelDBPath)
		if err != nil {
			return Stores{}, err
		}
		s = db
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: cfg.DialTimeout,
		})
		r, err := NewRedis(client)
		if err != nil {
			client.Close()
			return Stores{}, err
		}
		s = r
	case config.StoreConsul:
		conf := api.DefaultConfig()
		conf.Address = cfg.ConsulAddr
		client, err := api.NewClient(conf)
		if err != nil {
			return Stores{}, errors.Wrap(err, "consul client")
		}
		s = NewConsul(client, cfg.ConsulPrefix)
	case config.StoreMaelstrom:
		return Stores{}, errors.New("maelstrom stores need a node, use OpenMaelstrom")
	default:
		return Stores{}, errors.Errorf("unknown store backend %q", cfg.Backend)
	}
	return Stores{Linear: s, Aux: s}, nil
}

// OpenMaelstrom returns lin-kv as the linear role and seq-kv as the aux role.
func OpenMaelstrom(n *maelstrom.Node) Stores {
	return Stores{
		Linear: NewMaelstromLinear(n),
		Aux:    NewMaelstromSequential(n),
	}
}

// Ping reads a probe key until the store answers, backing off exponentially
// for at most timeout.
func Ping(ctx context.Context, s casklog.Store, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	return backoff.Retry(func() error {
		_, err := s.Read(ctx, pingKey)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
