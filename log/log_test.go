package log

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewNop().WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	return l, logs
}

func TestFields(t *testing.T) {
	l, logs := observed()
	l.With(String("node", "n1")).Info("request",
		Strings("nodes", []string{"n1", "n2"}),
		Bool("sharding", true),
		Int("attempt", 3),
		Uint64("offset", 7),
		Float64("ratio", 0.5),
		Duration("took", 2*time.Millisecond),
		Error("error", errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "request", entry.Message)
	require.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	require.Equal(t, "n1", fields["node"])
	require.Equal(t, []interface{}{"n1", "n2"}, fields["nodes"])
	require.Equal(t, true, fields["sharding"])
	require.Equal(t, int64(3), fields["attempt"])
	require.Equal(t, uint64(7), fields["offset"])
	require.Equal(t, 0.5, fields["ratio"])
	require.Equal(t, 2*time.Millisecond, fields["took"])
	require.Equal(t, "boom", fields["error"])
}

func TestLevels(t *testing.T) {
	l, logs := observed()
	l.Debug("d")
	l.Error("e")
	require.Equal(t, 2, logs.Len())
	require.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	require.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
	require.NoError(t, NewNop().Sync())
}

func TestNewProductionRejectsUnknownLevel(t *testing.T) {
	_, err := NewProduction("loud")
	require.Error(t, err)
	l, err := NewProduction("warn")
	require.NoError(t, err)
	require.NotNil(t, l)
}
