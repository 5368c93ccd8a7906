package coordinator

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/log"
)

// EntryLayout stores each record under its own key, <topic>/log/<offset>,
// created with a CAS that only succeeds if the key is absent. Each attempt
// reads forward from its starting point to the first absent key and claims
// it, so only a writer that loses that key has lost a round. The aux store
// keeps a hint of the log's length under <topic>/len so appends need not
// read from 0. The hint only moves forward and is never above the true
// length.
type EntryLayout struct {
	linear casklog.Store
	aux    casklog.Store
	logger log.Logger
}

// hintRetries bounds the CAS rounds spent moving the length hint forward.
const hintRetries = 3

func NewEntryLayout(linear, aux casklog.Store, logger log.Logger) *EntryLayout {
	return &EntryLayout{linear: linear, aux: aux, logger: logger}
}

func (l *EntryLayout) Name() string {
	return "entry"
}

func entryKey(topic string, offset uint64) string {
	return topic + "/log/" + strconv.FormatUint(offset, 10)
}

func hintKey(topic string) string {
	return topic + "/len"
}

func (l *EntryLayout) tryAppend(ctx context.Context, topic string, msg casklog.Message, a *attempt) (uint64, error) {
	if a.n == 0 {
		a.probe = l.hint(ctx, topic)
	}
	offset, err := l.firstAbsent(ctx, topic, a.probe)
	if err != nil {
		return 0, err
	}
	if err := l.linear.CompareAndSwap(ctx, entryKey(topic, offset), nil, msg); err != nil {
		if errors.Is(err, casklog.ErrCASConflict) {
			a.probe = offset + 1
		}
		return 0, err
	}
	return offset, nil
}

// appended moves the hint up to offset+1 unless it is already there.
func (l *EntryLayout) appended(ctx context.Context, topic string, offset uint64) {
	next := []byte(strconv.FormatUint(offset+1, 10))
	var err error
	for i := 0; i < hintRetries; i++ {
		var cur uint64
		var raw []byte
		if cur, raw, err = l.readHint(ctx, topic); err != nil {
			break
		}
		if raw != nil && cur > offset {
			return
		}
		if err = l.aux.CompareAndSwap(ctx, hintKey(topic), raw, next); !errors.Is(err, casklog.ErrCASConflict) {
			break
		}
	}
	if err != nil {
		l.logger.Debug("coordinator: length hint update failed", log.String("topic", topic), log.Error("error", err))
	}
}

func (l *EntryLayout) read(ctx context.Context, topic string, from uint64, limit int) ([]casklog.Entry, error) {
	var entries []casklog.Entry
	for k := from; limit <= 0 || len(entries) < limit; k++ {
		v, err := l.linear.Read(ctx, entryKey(topic, k))
		if err != nil {
			return nil, err
		}
		if v == nil {
			break
		}
		entries = append(entries, casklog.Entry{Offset: k, Message: v})
	}
	return entries, nil
}

func (l *EntryLayout) length(ctx context.Context, topic string) (uint64, error) {
	return l.firstAbsent(ctx, topic, l.hint(ctx, topic))
}

// firstAbsent returns the first offset at or above from with no entry.
func (l *EntryLayout) firstAbsent(ctx context.Context, topic string, from uint64) (uint64, error) {
	for n := from; ; n++ {
		v, err := l.linear.Read(ctx, entryKey(topic, n))
		if err != nil {
			return 0, err
		}
		if v == nil {
			return n, nil
		}
	}
}

// hint returns the stored length hint, or 0 if it is missing, unreadable or
// malformed. The hint is only a starting point for reads.
func (l *EntryLayout) hint(ctx context.Context, topic string) uint64 {
	n, _, _ := l.readHint(ctx, topic)
	return n
}

// readHint returns the hint's value and its raw bytes, nil when absent.
func (l *EntryLayout) readHint(ctx context.Context, topic string) (uint64, []byte, error) {
	v, err := l.aux.Read(ctx, hintKey(topic))
	if err != nil || v == nil {
		return 0, nil, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, v, nil
	}
	return n, v, nil
}
