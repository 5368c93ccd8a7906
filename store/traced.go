package store

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"

	"github.com/casklog/casklog"
)

// Traced wraps a store so every call opens a span. Conflicts are tagged
// rather than marked as errors since the retry loop expects them.
type Traced struct {
	store  casklog.Store
	tracer opentracing.Tracer
	role   string
}

var _ casklog.Store = (*Traced)(nil)

func NewTraced(s casklog.Store, tracer opentracing.Tracer, role string) *Traced {
	return &Traced{store: s, tracer: tracer, role: role}
}

func (s *Traced) Read(ctx context.Context, key string) ([]byte, error) {
	span, ctx := s.start(ctx, "store: read", key)
	defer span.Finish()
	v, err := s.store.Read(ctx, key)
	span.SetTag("absent", v == nil)
	finish(span, err)
	return v, err
}

func (s *Traced) Write(ctx context.Context, key string, value []byte) error {
	span, ctx := s.start(ctx, "store: write", key)
	defer span.Finish()
	err := s.store.Write(ctx, key, value)
	finish(span, err)
	return err
}

func (s *Traced) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	span, ctx := s.start(ctx, "store: cas", key)
	defer span.Finish()
	span.SetTag("create", expected == nil)
	err := s.store.CompareAndSwap(ctx, key, expected, value)
	finish(span, err)
	return err
}

func (s *Traced) Close() error {
	return s.store.Close()
}

func (s *Traced) start(ctx context.Context, op, key string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.tracer, op)
	span.SetTag("key", key)
	span.SetTag("role", s.role)
	return span, ctx
}

func finish(span opentracing.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, casklog.ErrCASConflict):
		span.SetTag("conflict", true)
	default:
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
}
