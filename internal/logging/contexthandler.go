package logging

import (
	"context"
	"log/slog"
)

// ContextProvider is a function that returns dynamic context attributes.
type ContextProvider func() []slog.Attr

// ContextHandler wraps another handler and injects dynamic context attributes.
// The attributes are emitted at the top level of the record, outside any
// group opened with WithGroup.
type ContextHandler struct {
	base     slog.Handler
	provider ContextProvider

	// WithAttrs/WithGroup calls replayed on top of base after the context
	// attributes, in call order
	chain []func(slog.Handler) slog.Handler
}

// NewContextHandler creates a handler that adds dynamic context to each record.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		base:     inner,
		provider: provider,
	}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle resolves the context attributes and delegates to the inner handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	inner := h.base
	if h.provider != nil {
		if attrs := h.provider(); len(attrs) > 0 {
			inner = inner.WithAttrs(attrs)
		}
	}
	for _, apply := range h.chain {
		inner = apply(inner)
	}
	return inner.Handle(ctx, r)
}

// WithAttrs returns a new ContextHandler with the given attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

// WithGroup returns a new ContextHandler with the given group.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *ContextHandler) with(apply func(slog.Handler) slog.Handler) *ContextHandler {
	chain := make([]func(slog.Handler) slog.Handler, len(h.chain), len(h.chain)+1)
	copy(chain, h.chain)
	return &ContextHandler{
		base:     h.base,
		provider: h.provider,
		chain:    append(chain, apply),
	}
}
