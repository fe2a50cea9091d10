package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextLogger verifies that loggers stored in a context are returned and scoped.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))

	base := New(zapcore.DebugLevel, FormatJSON)
	ctx := ToContext(context.Background(), base)
	require.Same(t, base, FromContext(ctx))

	scoped := WithKV(WithName(ctx, "actor"), "instance_id", 7)
	require.NotSame(t, base, FromContext(scoped))
	require.Same(t, base, FromContext(ctx))
}

// TestParseFormat accepts the known formats and defaults to console.
func TestParseFormat(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Format{"": FormatConsole, "Console": FormatConsole, " json ": FormatJSON} {
		got, ok := ParseFormat(input)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := ParseFormat("xml")
	require.False(t, ok)
}

// TestWithVerbose lets debug entries through a logger built at error level.
func TestWithVerbose(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	Debug(ctx, "hidden")
	Debug(WithVerbose(ctx), "shown")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "shown", entries[0].Message)
}
