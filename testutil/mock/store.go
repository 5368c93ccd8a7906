package mock

import (
	"context"

	"github.com/casklog/casklog"
)

// Store is a casklog.Store whose methods call the matching Fn field.
type Store struct {
	ReadFn                func(ctx context.Context, key string) ([]byte, error)
	ReadInvoked           bool
	WriteFn               func(ctx context.Context, key string, value []byte) error
	WriteInvoked          bool
	CompareAndSwapFn      func(ctx context.Context, key string, expected, value []byte) error
	CompareAndSwapInvoked bool
	CloseFn               func() error
	CloseInvoked          bool
}

var _ casklog.Store = (*Store)(nil)

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	s.ReadInvoked = true
	return s.ReadFn(ctx, key)
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	s.WriteInvoked = true
	return s.WriteFn(ctx, key, value)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	s.CompareAndSwapInvoked = true
	return s.CompareAndSwapFn(ctx, key, expected, value)
}

func (s *Store) Close() error {
	s.CloseInvoked = true
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}
