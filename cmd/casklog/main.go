package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	maelstrom "github.com/jepsen-io/maelstrom/demo/go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cobra"
	gracefully "github.com/tj/go-gracefully"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"
	"github.com/uber/jaeger-lib/metrics"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/broker"
	"github.com/casklog/casklog/client"
	"github.com/casklog/casklog/config"
	"github.com/casklog/casklog/log"
	casklogprom "github.com/casklog/casklog/prometheus"
	"github.com/casklog/casklog/server"
	"github.com/casklog/casklog/shard"
	"github.com/casklog/casklog/store"
)

var (
	cli = &cobra.Command{
		Use:   "casklog",
		Short: "Kafka-style logs over a shared compare-and-swap store",
		Run:   runMaelstrom,
	}

	flagCfg    = config.DefaultConfig()
	configPath string
	peers      []string
)

func init() {
	pf := cli.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file; flags override its values")
	pf.StringVar(&flagCfg.NodeID, "node-id", "", "Node ID (default: random for serve, assigned by maelstrom otherwise)")
	pf.StringVar(&flagCfg.Layout, "layout", flagCfg.Layout, "Log layout: blob or entry")
	pf.StringVar(&flagCfg.Codec, "codec", flagCfg.Codec, "Blob codec: json, lines or msgpack")
	pf.IntVar(&flagCfg.MaxRetries, "max-retries", flagCfg.MaxRetries, "CAS rounds a single append or commit may lose")
	pf.IntVar(&flagCfg.MaxPollEntries, "max-poll-entries", flagCfg.MaxPollEntries, "Entries returned per topic by a poll, 0 for all")
	pf.BoolVar(&flagCfg.Sharding, "sharding", flagCfg.Sharding, "Route sends and polls to the topic's owner node")
	pf.BoolVar(&flagCfg.Tracing, "tracing", flagCfg.Tracing, "Report spans to jaeger")
	pf.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Log level")

	maelstromCmd := &cobra.Command{Use: "maelstrom", Short: "Run a node under maelstrom on stdin/stdout", Run: runMaelstrom}

	serveCmd := &cobra.Command{Use: "serve", Short: "Run a node serving HTTP", Run: runServe}
	serveCmd.Flags().StringVar(&flagCfg.Store.Backend, "store", config.StoreMemory, "Store backend: memory, leveldb, redis or consul")
	serveCmd.Flags().StringVar(&flagCfg.Store.RedisAddr, "redis-addr", flagCfg.Store.RedisAddr, "Redis address")
	serveCmd.Flags().StringVar(&flagCfg.Store.ConsulAddr, "consul-addr", flagCfg.Store.ConsulAddr, "Consul address (default: consul's own default)")
	serveCmd.Flags().StringVar(&flagCfg.Store.LevelDBPath, "leveldb-path", flagCfg.Store.LevelDBPath, "LevelDB directory")
	serveCmd.Flags().StringVar(&flagCfg.HTTPAddr, "http-addr", flagCfg.HTTPAddr, "Address to serve HTTP on")
	serveCmd.Flags().StringSliceVar(&peers, "peer", nil, "Peer as id=addr. Can be specified multiple times.")

	cli.AddCommand(maelstromCmd, serveCmd)

	for _, ccmd := range clientCmds() {
		cli.AddCommand(ccmd)
	}
}

// loadConfig reads --config if given and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("node-id", func() { cfg.NodeID = flagCfg.NodeID })
	set("layout", func() { cfg.Layout = flagCfg.Layout })
	set("codec", func() { cfg.Codec = flagCfg.Codec })
	set("max-retries", func() { cfg.MaxRetries = flagCfg.MaxRetries })
	set("max-poll-entries", func() { cfg.MaxPollEntries = flagCfg.MaxPollEntries })
	set("sharding", func() { cfg.Sharding = flagCfg.Sharding })
	set("tracing", func() { cfg.Tracing = flagCfg.Tracing })
	set("log-level", func() { cfg.LogLevel = flagCfg.LogLevel })
	set("store", func() { cfg.Store.Backend = flagCfg.Store.Backend })
	set("redis-addr", func() { cfg.Store.RedisAddr = flagCfg.Store.RedisAddr })
	set("consul-addr", func() { cfg.Store.ConsulAddr = flagCfg.Store.ConsulAddr })
	set("leveldb-path", func() { cfg.Store.LevelDBPath = flagCfg.Store.LevelDBPath })
	set("http-addr", func() { cfg.HTTPAddr = flagCfg.HTTPAddr })
	if cfg.Peers == nil {
		cfg.Peers = map[string]string{}
	}
	for _, p := range peers {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, errors.Errorf("bad --peer %q, want id=addr", p)
		}
		cfg.Peers[kv[0]] = kv[1]
	}
	return cfg, nil
}

func newTracer(cfg *config.Config) (opentracing.Tracer, io.Closer, error) {
	if !cfg.Tracing {
		return opentracing.NoopTracer{}, io.NopCloser(nil), nil
	}
	jcfg := jaegercfg.Configuration{
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: true,
		},
	}
	return jcfg.New(
		"casklog",
		jaegercfg.Logger(jaegerlog.StdLogger),
		jaegercfg.Metrics(metrics.NullFactory),
	)
}

func exit(logger log.Logger, msg string, err error) {
	logger.Error(msg, log.Error("error", err))
	logger.Sync()
	os.Exit(1)
}

func runMaelstrom(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Store.Backend = config.StoreMaelstrom
	logger, err := log.NewProduction(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		exit(logger, "invalid config", err)
	}

	tracer, closer, err := newTracer(cfg)
	if err != nil {
		exit(logger, "error starting tracer", err)
	}
	defer closer.Close()

	n := maelstrom.NewNode()
	stores := store.OpenMaelstrom(n).Traced(tracer)
	m := casklog.NewMetrics()

	srv := server.NewMaelstrom(n, func(id string, ids []string) (*server.Dispatcher, error) {
		cfg.NodeID = id
		opts := []broker.Option{broker.Metrics(m), broker.Logger(logger)}
		if cfg.Sharding {
			opts = append(opts, broker.Router(shard.New(id, ids, server.NewMaelstromForwarder(n))))
		}
		b, err := broker.New(cfg, stores, tracer, opts...)
		if err != nil {
			return nil, err
		}
		return server.NewDispatcher(b, logger), nil
	}, logger)

	if err := srv.Run(); err != nil {
		exit(logger, "error running node", err)
	}

	appends := casklog.Value(m.Appends)
	conflicts := casklog.Value(m.CASConflicts)
	logger.Info("node stopped",
		log.String("node", cfg.NodeID),
		log.String("cas conflicts / total appends", fmt.Sprintf("%.0f / %.0f", conflicts, appends)),
		log.Float64("retries exhausted", casklog.Value(m.RetriesExhausted)),
		log.Float64("forwarded", casklog.Value(m.Forwarded)),
	)
	logger.Sync()
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Backend == config.StoreMaelstrom {
		cfg.Store.Backend = config.StoreMemory
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewV4().String()
	}
	logger, err := log.NewProduction(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With(
		log.String("node", cfg.NodeID),
		log.String("http addr", cfg.HTTPAddr),
		log.String("store", cfg.Store.Backend),
	)
	if err := cfg.Validate(); err != nil {
		exit(logger, "invalid config", err)
	}

	tracer, closer, err := newTracer(cfg)
	if err != nil {
		exit(logger, "error starting tracer", err)
	}
	defer closer.Close()

	stores, err := store.Open(cfg.Store)
	if err != nil {
		exit(logger, "error opening store", err)
	}
	defer stores.Close()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.DialTimeout)
	err = store.Ping(ctx, stores.Linear, cfg.Store.DialTimeout)
	cancel()
	if err != nil {
		exit(logger, "store unreachable", err)
	}

	registry := prometheus.NewRegistry()
	opts := []broker.Option{broker.Metrics(casklogprom.NewMetrics(registry)), broker.Logger(logger)}
	if cfg.Sharding {
		nodes := []string{cfg.NodeID}
		for id := range cfg.Peers {
			if id != cfg.NodeID {
				nodes = append(nodes, id)
			}
		}
		sort.Strings(nodes)
		opts = append(opts, broker.Router(shard.New(cfg.NodeID, nodes, client.NewClient(cfg.Peers, nil))))
	}
	b, err := broker.New(cfg, stores.Traced(tracer), tracer, opts...)
	if err != nil {
		exit(logger, "error starting broker", err)
	}

	srv := server.NewHTTP(cfg.HTTPAddr, server.NewDispatcher(b, logger), registry, logger)
	if err := srv.Start(); err != nil {
		exit(logger, "error starting server", err)
	}

	gracefully.Timeout = 10 * time.Second
	gracefully.Shutdown()

	ctx, cancel = context.WithTimeout(context.Background(), gracefully.Timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down server", log.Error("error", err))
	}
	logger.Sync()
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
