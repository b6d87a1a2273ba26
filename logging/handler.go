package logging

import (
	"context"
	"log/slog"
)

// Attribute keys the handler uses to place a logger in the component
// tree. Manager loggers carry both ("component=manager module=frsw");
// device and transport loggers carry only a component.
const (
	componentKey = "component"
	moduleKey    = "module"
)

// filteringHandler drops records below the level its Spec assigns to
// the logger's position in the component tree. A component or module
// attribute added through With replaces the one inherited from the
// parent logger.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
	module    string
	level     slog.Level
}

// NewFilteringHandler wraps inner with per-component level filtering.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	h := &filteringHandler{inner: inner, spec: spec}
	h.level = h.resolve()
	return h
}

// resolve picks the most specific override: "manager.frsw", then the
// module on its own ("frsw" also covers the frsw device loggers), then
// the component, then the base level.
func (h *filteringHandler) resolve() slog.Level {
	var keys []string
	if h.component != "" && h.module != "" {
		keys = append(keys, h.component+"."+h.module)
	}
	if h.module != "" {
		keys = append(keys, h.module)
	}
	if h.component != "" {
		keys = append(keys, h.component)
	}
	return h.spec.LevelFor(keys...).ToSlog()
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	for _, attr := range attrs {
		switch attr.Key {
		case componentKey:
			next.component = attr.Value.String()
		case moduleKey:
			next.module = attr.Value.String()
		}
	}
	next.level = next.resolve()
	return &next
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.inner = h.inner.WithGroup(name)
	return &next
}
