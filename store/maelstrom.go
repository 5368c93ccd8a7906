package store

import (
	"context"
	"encoding/base64"
	"fmt"

	maelstrom "github.com/jepsen-io/maelstrom/demo/go"
	"github.com/pkg/errors"

	"github.com/casklog/casklog"
)

// Maelstrom adapts one of maelstrom's KV services. Values travel as base64
// strings so arbitrary bytes survive the JSON transport. An absent expected
// value is sent as null with create_if_not_exists set, which keeps it
// distinct from an empty string.
type Maelstrom struct {
	kv *maelstrom.KV
}

var _ casklog.Store = (*Maelstrom)(nil)

// NewMaelstromLinear returns a store over the lin-kv service.
func NewMaelstromLinear(n *maelstrom.Node) *Maelstrom {
	return &Maelstrom{kv: maelstrom.NewLinKV(n)}
}

// NewMaelstromSequential returns a store over the seq-kv service.
func NewMaelstromSequential(n *maelstrom.Node) *Maelstrom {
	return &Maelstrom{kv: maelstrom.NewSeqKV(n)}
}

func (s *Maelstrom) Read(ctx context.Context, key string) ([]byte, error) {
	v, err := s.kv.Read(ctx, key)
	if err != nil {
		if rpcCode(err) == maelstrom.KeyDoesNotExist {
			return nil, nil
		}
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: err}
	}
	str, ok := v.(string)
	if !ok {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: fmt.Errorf("unexpected value type %T", v)}
	}
	b, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return nil, &casklog.StoreError{Op: "read", Key: key, Err: errors.Wrap(err, "decode value")}
	}
	return clone(b), nil
}

func (s *Maelstrom) Write(ctx context.Context, key string, value []byte) error {
	if err := s.kv.Write(ctx, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return &casklog.StoreError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *Maelstrom) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	var from interface{}
	if expected != nil {
		from = base64.StdEncoding.EncodeToString(expected)
	}
	err := s.kv.CompareAndSwap(ctx, key, from, base64.StdEncoding.EncodeToString(value), expected == nil)
	return casError(key, err)
}

func (s *Maelstrom) Close() error {
	return nil
}

// casError maps a KV reply to the store contract. A missing key while an
// existing value was expected is a conflict like any other mismatch.
func casError(key string, err error) error {
	if err == nil {
		return nil
	}
	switch rpcCode(err) {
	case maelstrom.PreconditionFailed, maelstrom.KeyDoesNotExist, maelstrom.KeyAlreadyExists:
		return casklog.ErrCASConflict
	}
	return &casklog.StoreError{Op: "cas", Key: key, Err: err}
}

func rpcCode(err error) int {
	var rpcErr *maelstrom.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return -1
}
