package store

import (
	"context"

	"github.com/pkg/errors"
	redis "gopkg.in/redis.v5"

	"github.com/casklog/casklog"
)

// casScript sets KEYS[1] to ARGV[3] when it holds ARGV[2]. ARGV[1] is "0"
// when the key must be absent instead.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if cur then return 0 end
elseif cur ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
return 1
`)

// Redis stores every key as a plain string value. CompareAndSwap runs as a
// Lua script, which redis executes atomically.
type Redis struct {
	client *redis.Client
}

var _ casklog.Store = (*Redis)(nil)

// NewRedis returns a store over client, failing if the server does not
// answer a ping.
func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, errors.New("invalid redis client")
	}
	if err := client.Ping().Err(); err != nil {
		return nil, &casklog.StoreError{Op: "ping", Key: "", Err: err}
	}
	return &Redis{client: client}, nil
}

func (s *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	v, err := s.client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	return clone(v), nil
}

func (s *Redis) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	if err := s.client.Set(key, value, 0).Err(); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *Redis) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	present := "1"
	if expected == nil {
		present = "0"
	}
	res, err := casScript.Run(s.client, []string{key}, present, expected, value).Result()
	if err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return casklog.ErrCASConflict
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
