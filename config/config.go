package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/casklog/casklog/codec"
)

const (
	LayoutBlob  = "blob"
	LayoutEntry = "entry"

	StoreMaelstrom = "maelstrom"
	StoreMemory    = "memory"
	StoreLevelDB   = "leveldb"
	StoreRedis     = "redis"
	StoreConsul    = "consul"

	DefaultMaxRetries = 100
	DefaultHTTPAddr   = "127.0.0.1:9092"
)

// Config holds the configuration for a node.
type Config struct {
	NodeID string `yaml:"node_id"`
	// Layout picks how a topic's log is laid out in the store: one blob per
	// topic or one key per record.
	Layout string `yaml:"layout"`
	// Codec encodes the blob layout's value. Ignored by the entry layout.
	Codec string `yaml:"codec"`
	// MaxRetries bounds the CAS attempts of a single append or commit.
	MaxRetries int `yaml:"max_retries"`
	// MaxPollEntries bounds the entries returned per topic by a poll. Zero
	// returns the whole suffix.
	MaxPollEntries int `yaml:"max_poll_entries"`
	// Sharding routes sends and polls to the topic's owner node.
	Sharding bool              `yaml:"sharding"`
	Store    StoreConfig       `yaml:"store"`
	HTTPAddr string            `yaml:"http_addr"`
	Peers    map[string]string `yaml:"peers"`
	Tracing  bool              `yaml:"tracing"`
	LogLevel string            `yaml:"log_level"`
}

// StoreConfig picks and configures the backing store.
type StoreConfig struct {
	Backend      string        `yaml:"backend"`
	RedisAddr    string        `yaml:"redis_addr"`
	ConsulAddr   string        `yaml:"consul_addr"`
	ConsulPrefix string        `yaml:"consul_prefix"`
	LevelDBPath  string        `yaml:"leveldb_path"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// DefaultConfig creates/returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Layout:     LayoutBlob,
		Codec:      "json",
		MaxRetries: DefaultMaxRetries,
		HTTPAddr:   DefaultHTTPAddr,
		LogLevel:   "info",
		Peers:      map[string]string{},
		Store: StoreConfig{
			Backend:      StoreMaelstrom,
			RedisAddr:    "127.0.0.1:6379",
			ConsulPrefix: "casklog/",
			LevelDBPath:  "/tmp/casklog",
			DialTimeout:  10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	conf := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	b, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(b, conf); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return conf, nil
}

// Validate checks the configuration for values the node can't run with.
func (c *Config) Validate() error {
	switch c.Layout {
	case LayoutBlob, LayoutEntry:
	default:
		return errors.Errorf("unknown layout %q", c.Layout)
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		return err
	}
	switch c.Store.Backend {
	case StoreMaelstrom, StoreMemory, StoreLevelDB, StoreRedis, StoreConsul:
	default:
		return errors.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.MaxRetries < 1 {
		return errors.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MaxPollEntries < 0 {
		return errors.Errorf("max poll entries must not be negative, got %d", c.MaxPollEntries)
	}
	if c.Sharding && c.Store.Backend != StoreMaelstrom && len(c.Peers) == 0 {
		return errors.New("sharding needs peers outside maelstrom")
	}
	return nil
}
