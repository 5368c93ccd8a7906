package coordinator

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/codec"
	"github.com/casklog/casklog/store"
	"github.com/casklog/casklog/testutil"
	"github.com/casklog/casklog/testutil/mock"
)

type layoutFn func(linear, aux casklog.Store) Layout

func layouts(t *testing.T) map[string]layoutFn {
	fns := map[string]layoutFn{
		"entry": func(linear, aux casklog.Store) Layout {
			return NewEntryLayout(linear, aux, testutil.NewTestLogger())
		},
	}
	for _, name := range codec.Names() {
		c, err := codec.Lookup(name)
		require.NoError(t, err)
		fns["blob/"+name] = func(linear, aux casklog.Store) Layout {
			return NewBlobLayout(linear, c)
		}
	}
	return fns
}

func TestAppendPoll(t *testing.T) {
	for name, fn := range layouts(t) {
		t.Run(name, func(t *testing.T) {
			s := testutil.NewTestStores(t)
			c := New(fn(s.Linear, s.Aux))
			ctx := context.Background()

			entries, err := c.Poll(ctx, "t1", 0)
			require.NoError(t, err)
			require.Empty(t, entries)

			off, err := c.Append(ctx, "t1", casklog.Message("a"))
			require.NoError(t, err)
			require.Equal(t, uint64(0), off)
			off, err = c.Append(ctx, "t1", casklog.Message("b"))
			require.NoError(t, err)
			require.Equal(t, uint64(1), off)

			tests := []struct {
				from uint64
				want []casklog.Entry
			}{
				{from: 0, want: []casklog.Entry{{Offset: 0, Message: casklog.Message("a")}, {Offset: 1, Message: casklog.Message("b")}}},
				{from: 1, want: []casklog.Entry{{Offset: 1, Message: casklog.Message("b")}}},
				{from: 2, want: nil},
				{from: 100, want: nil},
			}
			for _, test := range tests {
				entries, err := c.Poll(ctx, "t1", test.from)
				require.NoError(t, err)
				require.Equal(t, test.want, entries, "poll from %d", test.from)
			}

			n, err := c.Length(ctx, "t1")
			require.NoError(t, err)
			require.Equal(t, uint64(2), n)

			// Topics are independent.
			off, err = c.Append(ctx, "t2", casklog.Message("c"))
			require.NoError(t, err)
			require.Equal(t, uint64(0), off)

			require.Equal(t, float64(3), casklog.Value(c.metrics.Appends))
		})
	}
}

func TestPollIsRepeatable(t *testing.T) {
	for name, fn := range layouts(t) {
		t.Run(name, func(t *testing.T) {
			s := testutil.NewTestStores(t)
			c := New(fn(s.Linear, s.Aux))
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				_, err := c.Append(ctx, "t", casklog.Message(fmt.Sprint(i)))
				require.NoError(t, err)
			}
			first, err := c.Poll(ctx, "t", 2)
			require.NoError(t, err)
			second, err := c.Poll(ctx, "t", 2)
			require.NoError(t, err)
			require.Equal(t, first, second)
		})
	}
}

func TestMaxPollEntries(t *testing.T) {
	for name, fn := range layouts(t) {
		t.Run(name, func(t *testing.T) {
			s := testutil.NewTestStores(t)
			c := New(fn(s.Linear, s.Aux), MaxPollEntries(3))
			ctx := context.Background()
			for i := 0; i < 10; i++ {
				_, err := c.Append(ctx, "t", casklog.Message(fmt.Sprint(i)))
				require.NoError(t, err)
			}
			entries, err := c.Poll(ctx, "t", 4)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			require.Equal(t, uint64(4), entries[0].Offset)
			require.Equal(t, uint64(6), entries[2].Offset)
		})
	}
}

func TestConcurrentAppendsAreContiguous(t *testing.T) {
	const (
		nodes   = 4
		perNode = 50
	)
	for name, fn := range layouts(t) {
		t.Run(name, func(t *testing.T) {
			s := testutil.NewTestStores(t)
			ctx := context.Background()
			offsets := make([][]uint64, nodes)
			var g errgroup.Group
			for i := 0; i < nodes; i++ {
				i := i
				c := New(fn(s.Linear, s.Aux), MaxRetries(10000))
				g.Go(func() error {
					for j := 0; j < perNode; j++ {
						off, err := c.Append(ctx, "t", casklog.Message(fmt.Sprintf("%d-%d", i, j)))
						if err != nil {
							return err
						}
						offsets[i] = append(offsets[i], off)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			var all []uint64
			for _, offs := range offsets {
				// Each writer sees its own appends in increasing order.
				require.True(t, sort.SliceIsSorted(offs, func(a, b int) bool { return offs[a] < offs[b] }))
				all = append(all, offs...)
			}
			sort.Slice(all, func(a, b int) bool { return all[a] < all[b] })
			require.Len(t, all, nodes*perNode)
			for i, off := range all {
				require.Equal(t, uint64(i), off)
			}

			entries, err := New(fn(s.Linear, s.Aux)).Poll(ctx, "t", 0)
			require.NoError(t, err)
			require.Len(t, entries, nodes*perNode)
			for i, offs := range offsets {
				for j, off := range offs {
					require.Equal(t, casklog.Message(fmt.Sprintf("%d-%d", i, j)), entries[off].Message)
				}
			}
		})
	}
}

func TestAppendRetriesConflicts(t *testing.T) {
	db, err := store.NewMemDB()
	require.NoError(t, err)
	lost := 2
	s := &mock.Store{
		ReadFn:  db.Read,
		WriteFn: db.Write,
		CompareAndSwapFn: func(ctx context.Context, key string, expected, value []byte) error {
			if lost > 0 {
				lost--
				return casklog.ErrCASConflict
			}
			return db.CompareAndSwap(ctx, key, expected, value)
		},
	}
	c := New(NewBlobLayout(s, codec.JSON{}))
	off, err := c.Append(context.Background(), "t", casklog.Message("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	require.Equal(t, float64(2), casklog.Value(c.metrics.CASConflicts))
	require.Equal(t, float64(0), casklog.Value(c.metrics.RetriesExhausted))
}

func TestAppendRetryBudgetExceeded(t *testing.T) {
	cas := 0
	s := &mock.Store{
		ReadFn: func(ctx context.Context, key string) ([]byte, error) {
			return nil, nil
		},
		CompareAndSwapFn: func(ctx context.Context, key string, expected, value []byte) error {
			cas++
			return casklog.ErrCASConflict
		},
	}
	c := New(NewBlobLayout(s, codec.JSON{}), MaxRetries(3))
	_, err := c.Append(context.Background(), "t", casklog.Message("a"))
	require.True(t, errors.Is(err, casklog.ErrRetryBudgetExceeded))
	require.Equal(t, 4, cas)
	require.Equal(t, float64(4), casklog.Value(c.metrics.CASConflicts))
	require.Equal(t, float64(1), casklog.Value(c.metrics.RetriesExhausted))
	require.Equal(t, float64(0), casklog.Value(c.metrics.Appends))
}

func TestStoreUnavailableIsNotRetried(t *testing.T) {
	down := &casklog.StoreError{Op: "read", Key: "t/log", Err: errors.New("connection refused")}
	s := &mock.Store{
		ReadFn: func(ctx context.Context, key string) ([]byte, error) {
			return nil, down
		},
	}
	c := New(NewBlobLayout(s, codec.JSON{}))
	_, err := c.Append(context.Background(), "t", casklog.Message("a"))
	require.True(t, errors.Is(err, casklog.ErrStoreUnavailable))
	require.False(t, s.CompareAndSwapInvoked)

	_, err = c.Poll(context.Background(), "t", 0)
	require.True(t, errors.Is(err, casklog.ErrStoreUnavailable))
}

func TestEntryLayoutTrailingHint(t *testing.T) {
	tests := []struct {
		name string
		hint []byte
	}{
		{name: "late hint write", hint: []byte("4")},
		{name: "reset hint", hint: []byte("0")},
		{name: "garbage hint", hint: []byte("x")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := testutil.NewTestStores(t)
			ctx := context.Background()
			c := New(NewEntryLayout(s.Linear, s.Aux, testutil.NewTestLogger()), MaxRetries(3))
			for i := 0; i < 20; i++ {
				_, err := c.Append(ctx, "t", casklog.Message("x"))
				require.NoError(t, err)
			}
			require.NoError(t, s.Aux.Write(ctx, hintKey("t"), test.hint))

			for i := 20; i < 22; i++ {
				off, err := c.Append(ctx, "t", casklog.Message("y"))
				require.NoError(t, err)
				require.Equal(t, uint64(i), off)
			}
			require.Equal(t, float64(0), casklog.Value(c.metrics.CASConflicts))
			require.Equal(t, float64(0), casklog.Value(c.metrics.RetriesExhausted))

			hint, err := s.Aux.Read(ctx, hintKey("t"))
			require.NoError(t, err)
			require.Equal(t, []byte("22"), hint)

			n, err := c.Length(ctx, "t")
			require.NoError(t, err)
			require.Equal(t, uint64(22), n)
		})
	}
}

func TestEntryLayoutHintOnlyMovesForward(t *testing.T) {
	s := testutil.NewTestStores(t)
	ctx := context.Background()
	l := NewEntryLayout(s.Linear, s.Aux, testutil.NewTestLogger())

	l.appended(ctx, "t", 9)
	l.appended(ctx, "t", 3)
	hint, err := s.Aux.Read(ctx, hintKey("t"))
	require.NoError(t, err)
	require.Equal(t, []byte("10"), hint)

	l.appended(ctx, "t", 10)
	hint, err = s.Aux.Read(ctx, hintKey("t"))
	require.NoError(t, err)
	require.Equal(t, []byte("11"), hint)
}

func TestEntryLayoutLostKeyIsAConflict(t *testing.T) {
	db, err := store.NewMemDB()
	require.NoError(t, err)
	raced := false
	s := &mock.Store{
		ReadFn:  db.Read,
		WriteFn: db.Write,
		CompareAndSwapFn: func(ctx context.Context, key string, expected, value []byte) error {
			if key == entryKey("t", 0) && !raced {
				raced = true
				require.NoError(t, db.CompareAndSwap(ctx, key, nil, []byte("other")))
			}
			return db.CompareAndSwap(ctx, key, expected, value)
		},
	}
	c := New(NewEntryLayout(s, s, testutil.NewTestLogger()))
	off, err := c.Append(context.Background(), "t", casklog.Message("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), off)
	require.Equal(t, float64(1), casklog.Value(c.metrics.CASConflicts))
}

func TestEntryLayoutIgnoresGarbageHint(t *testing.T) {
	s := testutil.NewTestStores(t)
	ctx := context.Background()
	require.NoError(t, s.Aux.Write(ctx, hintKey("t"), []byte("not a number")))
	c := New(NewEntryLayout(s.Linear, s.Aux, testutil.NewTestLogger()))
	off, err := c.Append(ctx, "t", casklog.Message("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
}
