package coordinator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casklog/casklog"
)

// BlobLayout keeps a topic's whole log in one value under <topic>/log.
// Every append rewrites the value, so the store's CAS on that single key
// orders all appends to the topic.
type BlobLayout struct {
	store casklog.Store
	codec casklog.Codec
}

func NewBlobLayout(store casklog.Store, codec casklog.Codec) *BlobLayout {
	return &BlobLayout{store: store, codec: codec}
}

func (l *BlobLayout) Name() string {
	return "blob/" + l.codec.Name()
}

func blobKey(topic string) string {
	return topic + "/log"
}

func (l *BlobLayout) tryAppend(ctx context.Context, topic string, msg casklog.Message, a *attempt) (uint64, error) {
	cur, msgs, err := l.load(ctx, topic)
	if err != nil {
		return 0, err
	}
	next, err := l.codec.AppendOne(cur, msg)
	if err != nil {
		return 0, errors.Wrapf(err, "encode %s", topic)
	}
	if err := l.store.CompareAndSwap(ctx, blobKey(topic), cur, next); err != nil {
		return 0, err
	}
	return uint64(len(msgs)), nil
}

func (l *BlobLayout) appended(ctx context.Context, topic string, offset uint64) {}

func (l *BlobLayout) read(ctx context.Context, topic string, from uint64, limit int) ([]casklog.Entry, error) {
	_, msgs, err := l.load(ctx, topic)
	if err != nil {
		return nil, err
	}
	if from >= uint64(len(msgs)) {
		return nil, nil
	}
	msgs = msgs[from:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	entries := make([]casklog.Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = casklog.Entry{Offset: from + uint64(i), Message: m}
	}
	return entries, nil
}

func (l *BlobLayout) length(ctx context.Context, topic string) (uint64, error) {
	_, msgs, err := l.load(ctx, topic)
	return uint64(len(msgs)), err
}

// load returns the raw value, nil when the topic has no log yet, and its
// decoded messages.
func (l *BlobLayout) load(ctx context.Context, topic string) ([]byte, []casklog.Message, error) {
	cur, err := l.store.Read(ctx, blobKey(topic))
	if err != nil || cur == nil {
		return nil, nil, err
	}
	msgs, err := l.codec.Decode(cur)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decode %s", topic)
	}
	return cur, msgs, nil
}
