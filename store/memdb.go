package store

import (
	"bytes"
	"context"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/casklog/casklog"
)

const kvTable = "kv"

type kvEntry struct {
	Key   string
	Value []byte
}

func kvTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: kvTable,
		Indexes: map[string]*memdb.IndexSchema{
			"id": &memdb.IndexSchema{
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "Key",
				},
			},
		},
	}
}

// MemDB is an in-process store. Write transactions in memdb are serialized,
// which makes CompareAndSwap atomic for every broker sharing the instance.
type MemDB struct {
	db *memdb.MemDB
}

var _ casklog.Store = (*MemDB)(nil)

func NewMemDB() (*MemDB, error) {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{kvTable: kvTableSchema()},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed setting up memdb store")
	}
	return &MemDB{db: db}, nil
}

func (s *MemDB) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	tx := s.db.Txn(false)
	defer tx.Abort()
	e, err := s.get(tx, key)
	if err != nil || e == nil {
		return nil, err
	}
	return clone(e.Value), nil
}

func (s *MemDB) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	tx := s.db.Txn(true)
	defer tx.Abort()
	if err := tx.Insert(kvTable, &kvEntry{Key: key, Value: clone(value)}); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	tx.Commit()
	return nil
}

func (s *MemDB) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	if err := ctx.Err(); err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	tx := s.db.Txn(true)
	defer tx.Abort()
	cur, err := s.get(tx, key)
	if err != nil {
		return err
	}
	if !matches(cur, expected) {
		return casklog.ErrCASConflict
	}
	if err := tx.Insert(kvTable, &kvEntry{Key: key, Value: clone(value)}); err != nil {
		return &casklog.StoreError{Op: "cas", Key: key, Err: err}
	}
	tx.Commit()
	return nil
}

func (s *MemDB) Close() error {
	return nil
}

func (s *MemDB) get(tx *memdb.Txn, key string) (*kvEntry, error) {
	raw, err := tx.First(kvTable, "id", key)
	if err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*kvEntry), nil
}

func matches(cur *kvEntry, expected []byte) bool {
	if cur == nil || expected == nil {
		return cur == nil && expected == nil
	}
	return bytes.Equal(cur.Value, expected)
}

// clone copies b, keeping present-but-empty values non-nil.
func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
