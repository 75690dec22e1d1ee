package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingHandler accepts every record and fails to write it.
type failingHandler struct {
	slog.Handler
	err error
}

func (h *failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *failingHandler) Handle(context.Context, slog.Record) error { return h.err }

func TestMultiHandler(t *testing.T) {
	tests := []struct {
		name  string
		build func(a, b *bytes.Buffer) slog.Handler
		log   func(l *slog.Logger)
		wantA string
		wantB string
	}{
		{
			name: "fans out",
			build: func(a, b *bytes.Buffer) slog.Handler {
				return NewMultiHandler(slog.NewTextHandler(a, nil), slog.NewTextHandler(b, nil))
			},
			log:   func(l *slog.Logger) { l.Info("document saved") },
			wantA: "document saved",
			wantB: "document saved",
		},
		{
			name: "skips nil handlers",
			build: func(a, _ *bytes.Buffer) slog.Handler {
				return NewMultiHandler(nil, slog.NewTextHandler(a, nil), nil)
			},
			log:   func(l *slog.Logger) { l.Info("loaded") },
			wantA: "loaded",
		},
		{
			name: "respects each level",
			build: func(a, b *bytes.Buffer) slog.Handler {
				return NewMultiHandler(
					slog.NewTextHandler(a, &slog.HandlerOptions{Level: slog.LevelDebug}),
					slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelInfo}),
				)
			},
			log:   func(l *slog.Logger) { l.Debug("element added") },
			wantA: "element added",
		},
		{
			name: "attributes",
			build: func(a, b *bytes.Buffer) slog.Handler {
				return NewMultiHandler(slog.NewTextHandler(a, nil), slog.NewTextHandler(b, nil)).
					WithAttrs([]slog.Attr{slog.String("component", "stream")})
			},
			log:   func(l *slog.Logger) { l.Info("connected") },
			wantA: "component=stream",
			wantB: "component=stream",
		},
		{
			name: "group",
			build: func(a, _ *bytes.Buffer) slog.Handler {
				return NewMultiHandler(slog.NewTextHandler(a, nil)).WithGroup("frame")
			},
			log:   func(l *slog.Logger) { l.Info("published", "n", 4) },
			wantA: "frame.n=4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a, b bytes.Buffer
			tt.log(slog.New(tt.build(&a, &b)))

			if tt.wantA != "" {
				assert.Contains(t, a.String(), tt.wantA)
			} else {
				assert.Empty(t, a.String())
			}
			if tt.wantB != "" {
				assert.Contains(t, b.String(), tt.wantB)
			} else {
				assert.Empty(t, b.String())
			}
		})
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	info := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})
	ctx := context.Background()

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))
	assert.False(t, NewMultiHandler(info).Enabled(ctx, slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(ctx, slog.LevelDebug))
}

func TestMultiHandler_WithGroupEmpty(t *testing.T) {
	multi := NewMultiHandler(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, multi, multi.WithGroup(""))
}

func TestMultiHandler_JoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	errA := errors.New("disk full")
	errB := errors.New("exporter closed")
	multi := NewMultiHandler(
		&failingHandler{err: errA},
		slog.NewTextHandler(&buf, nil),
		&failingHandler{err: errB},
	)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "direct", 0)
	err := multi.Handle(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	// a failing handler does not stop the others
	assert.Contains(t, buf.String(), "direct")
}
