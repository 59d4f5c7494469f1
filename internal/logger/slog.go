package logger

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/rs/zerolog"
)

// handler writes slog records through zerolog. The tracking coordinates in
// the record's context, and top-level attrs naming them, become the typed
// fields FromContext would add, so a line never carries both spellings.
type handler struct {
	zl     *zerolog.Logger
	attrs  []groupedAttr
	prefix string
}

// groupedAttr remembers the group an attr was added under.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&handler{zl: zl})
}

func levelOf(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelDebug:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	lvl := levelOf(l)
	return lvl >= h.zl.GetLevel() && lvl >= zerolog.GlobalLevel()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	f := FieldsFrom(ctx)
	rest := make([]groupedAttr, 0, len(h.attrs)+r.NumAttrs())
	keep := func(ga groupedAttr) {
		if ga.prefix != "" || !promote(&f, ga.attr) {
			rest = append(rest, ga)
		}
	}
	for _, ga := range h.attrs {
		keep(ga)
	}
	r.Attrs(func(a slog.Attr) bool {
		keep(groupedAttr{prefix: h.prefix, attr: a})
		return true
	})

	l := f.apply(h.zl.With()).Logger()
	ev := l.WithLevel(levelOf(r.Level))
	for _, ga := range rest {
		ev = addAttr(ev, ga.prefix, ga.attr)
	}
	ev.Msg(r.Message)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]groupedAttr(nil), h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, groupedAttr{prefix: h.prefix, attr: a})
	}
	return &cp
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

// promote folds an attr naming a tracking coordinate into f. Values of the
// wrong shape stay ordinary attrs.
func promote(f *Fields, a slog.Attr) bool {
	v := a.Value.Resolve()
	switch a.Key {
	case "request_id", "component", "domain":
		if v.Kind() != slog.KindString || v.String() == "" {
			return false
		}
		switch a.Key {
		case "request_id":
			f.RequestID = v.String()
		case "component":
			f.Component = v.String()
		default:
			f.Domain = v.String()
		}
		return true
	case "object_id":
		id, ok := unsigned(v, 64)
		if ok {
			f.SetObject(id)
		}
		return ok
	case "range_index":
		idx, ok := unsigned(v, 32)
		if ok {
			f.SetRange(uint32(idx))
		}
		return ok
	}
	return false
}

func unsigned(v slog.Value, bits int) (uint64, bool) {
	switch v.Kind() {
	case slog.KindUint64:
		n := v.Uint64()
		return n, bits == 64 || n>>bits == 0
	case slog.KindInt64:
		n := v.Int64()
		return uint64(n), n >= 0 && (bits == 64 || uint64(n)>>bits == 0)
	case slog.KindString:
		n, err := strconv.ParseUint(v.String(), 10, bits)
		return n, err == nil
	}
	return 0, false
}

func addAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return ev
	}
	key := prefix + a.Key
	switch v.Kind() {
	case slog.KindGroup:
		sub := prefix
		if a.Key != "" {
			sub = key + "."
		}
		for _, ga := range v.Group() {
			ev = addAttr(ev, sub, ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	}
	if err, ok := v.Any().(error); ok {
		return ev.AnErr(key, err)
	}
	return ev.Interface(key, v.Any())
}
