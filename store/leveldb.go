package store

import (
	"bytes"
	"context"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/casklog/casklog"
)

// LevelDB is a durable store for a single node, or for several nodes in one
// process sharing the instance. CompareAndSwap runs inside a leveldb
// transaction, which excludes other writes until it commits.
type LevelDB struct {
	db *leveldb.DB
}

var _ casklog.Store = (*LevelDB)(nil)

func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, &casklog.StoreError{Op: "open", Key: path, Err: err}
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	v, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	return clone(v), nil
}

func (s *LevelDB) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *LevelDB) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	cur, err := tr.Get([]byte(key), nil)
	switch {
	case err == leveldb.ErrNotFound:
		cur = nil
	case err != nil:
		tr.Discard()
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	case cur == nil:
		cur = []byte{}
	}
	if (cur == nil) != (expected == nil) || !bytes.Equal(cur, expected) {
		tr.Discard()
		return casklog.ErrCASConflict
	}
	if err := tr.Put([]byte(key), value, nil); err != nil {
		tr.Discard()
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	if err := tr.Commit(); err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	return nil
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}
