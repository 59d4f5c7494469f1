// Package logger builds the daemon's zerolog logger and carries the tracking
// coordinates of a request (domain, object, range) through a context so that
// every line logged on its behalf names what it was about.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	// SampleN keeps one line in N; 0 keeps every line.
	SampleN uint32
	Service string
}

// Fields are the coordinates a log line can be tied to.
type Fields struct {
	RequestID  string
	Component  string
	Domain     string
	ObjectID   uint64
	RangeIndex uint32

	hasObject bool
	hasRange  bool
}

func (f Fields) HasObject() bool { return f.hasObject }
func (f Fields) HasRange() bool  { return f.hasRange }

func (f *Fields) SetObject(id uint64) { f.ObjectID, f.hasObject = id, true }
func (f *Fields) SetRange(idx uint32) { f.RangeIndex, f.hasRange = idx, true }

func (f Fields) apply(c zerolog.Context) zerolog.Context {
	if f.RequestID != "" {
		c = c.Str("request_id", f.RequestID)
	}
	if f.Component != "" {
		c = c.Str("component", f.Component)
	}
	if f.Domain != "" {
		c = c.Str("domain", f.Domain)
	}
	if f.hasObject {
		c = c.Uint64("object_id", f.ObjectID)
	}
	if f.hasRange {
		c = c.Uint32("range_index", f.RangeIndex)
	}
	return c
}

type fieldsKey struct{}

// FieldsFrom returns the coordinates stored in ctx.
func FieldsFrom(ctx context.Context) Fields {
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

func with(ctx context.Context, set func(*Fields)) context.Context {
	f := FieldsFrom(ctx)
	set(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithRequestID stores reqID, or a fresh ID when it is empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, func(f *Fields) { f.RequestID = reqID })
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return with(ctx, func(f *Fields) { f.Component = component })
}

func WithDomain(ctx context.Context, domain string) context.Context {
	if domain == "" {
		return ctx
	}
	return with(ctx, func(f *Fields) { f.Domain = domain })
}

func WithObjectID(ctx context.Context, id uint64) context.Context {
	return with(ctx, func(f *Fields) { f.SetObject(id) })
}

func WithRangeIndex(ctx context.Context, idx uint32) context.Context {
	return with(ctx, func(f *Fields) { f.SetRange(idx) })
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Build returns the process logger. Unknown levels mean info.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).Level(lvl)
	if cfg.SampleN > 1 {
		// warnings and errors are never sampled away
		l = l.Sample(zerolog.LevelSampler{
			TraceSampler: &zerolog.BasicSampler{N: cfg.SampleN},
			DebugSampler: &zerolog.BasicSampler{N: cfg.SampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.SampleN},
		})
	}

	c := l.With().Timestamp()
	if cfg.Service != "" {
		c = c.Str("service", cfg.Service)
	}
	return c.Logger()
}

// FromContext returns a child of parent carrying the fields stored in ctx.
// A nil parent discards everything.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	l := FieldsFrom(ctx).apply(base.With()).Logger()
	return &l
}
