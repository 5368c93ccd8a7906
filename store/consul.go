package store

import (
	"bytes"
	"context"
	"strings"

	"github.com/hashicorp/consul/api"

	"github.com/casklog/casklog"
)

// Consul keeps keys under a prefix in consul's KV store. CompareAndSwap
// reads the current pair and then uses consul's check-and-set on its
// ModifyIndex, so a write landing in between is reported as a conflict.
type Consul struct {
	kv     *api.KV
	prefix string
}

var _ casklog.Store = (*Consul)(nil)

func NewConsul(client *api.Client, prefix string) *Consul {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Consul{kv: client.KV(), prefix: prefix}
}

func (s *Consul) Read(ctx context.Context, key string) ([]byte, error) {
	p, err := s.get(ctx, key)
	if err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	if p == nil {
		return nil, nil
	}
	return clone(p.Value), nil
}

func (s *Consul) Write(ctx context.Context, key string, value []byte) error {
	p := &api.KVPair{Key: s.prefix + key, Value: value}
	if _, err := s.kv.Put(p, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *Consul) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	cur, err := s.get(ctx, key)
	if err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	var index uint64
	switch {
	case cur == nil && expected == nil:
		// ModifyIndex 0 only succeeds if the key does not exist.
	case cur == nil || expected == nil:
		return casklog.ErrCASConflict
	case !bytes.Equal(cur.Value, expected):
		return casklog.ErrCASConflict
	default:
		index = cur.ModifyIndex
	}
	p := &api.KVPair{Key: s.prefix + key, Value: value, ModifyIndex: index}
	ok, _, err := s.kv.CAS(p, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	if !ok {
		return casklog.ErrCASConflict
	}
	return nil
}

func (s *Consul) Close() error {
	return nil
}

func (s *Consul) get(ctx context.Context, key string) (*api.KVPair, error) {
	q := &api.QueryOptions{RequireConsistent: true}
	p, _, err := s.kv.Get(s.prefix+key, q.WithContext(ctx))
	return p, err
}
