package redisheat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
	"github.com/mohammed-shakir/hottrack/internal/observability"
)

const sinkName = "redis"

// Source is what the export loop reads from; tracking.Manager implements it.
type Source interface {
	Domains() []string
	Get(domain string) (*hottrack.Root, bool)
}

type Exporter struct {
	rdb    redis.Cmdable
	prefix string
	log    zerolog.Logger

	// last exported snapshot per domain, touched only by Run
	exported map[string]snapshot
}

// snapshot names one heat map state. A re-enabled domain gets a new root
// whose generations restart, so the root is part of the identity.
type snapshot struct {
	root *hottrack.Root
	gen  uint64
}

func NewExporter(rdb redis.Cmdable, prefix string, log zerolog.Logger) *Exporter {
	return &Exporter{
		rdb:      rdb,
		prefix:   prefix,
		log:      log.With().Str("component", "redisheat").Logger(),
		exported: make(map[string]snapshot),
	}
}

// Key is the sorted set holding one domain's hottest items of kind k.
func (e *Exporter) Key(domain string, k hottrack.Kind) string {
	return e.prefix + ":" + domain + ":" + k.String()
}

func (e *Exporter) metaKey(domain string) string {
	return e.prefix + ":" + domain + ":meta"
}

// Member is the sorted set member of an entry: "<object>" for objects,
// "<object>:<range>" for ranges.
func Member(en hottrack.Entry) string {
	id := strconv.FormatUint(en.ObjectID, 10)
	if en.Kind == hottrack.KindRange {
		return id + ":" + strconv.FormatUint(uint64(en.RangeIndex), 10)
	}
	return id
}

// Export replaces the set of domain/kind with entries. Readers see the old
// set or the new one, never a partial one.
func (e *Exporter) Export(ctx context.Context, domain string, k hottrack.Kind, entries []hottrack.Entry) error {
	key := e.Key(domain, k)
	tmp := key + ":tmp"

	_, err := e.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(entries) == 0 {
			p.Del(ctx, key)
			return nil
		}
		zs := make([]redis.Z, 0, len(entries))
		for _, en := range entries {
			zs = append(zs, redis.Z{Score: float64(en.Temperature), Member: Member(en)})
		}
		p.Del(ctx, tmp)
		p.ZAdd(ctx, tmp, zs...)
		p.Rename(ctx, tmp, key)
		return nil
	})
	observability.ObserveExport(sinkName, err)
	if err != nil {
		return fmt.Errorf("redis export %q (%d entries): %w", key, len(entries), err)
	}
	return nil
}

// ExportRoot exports the topN hottest objects and ranges of r, plus a meta
// hash with the aging generation they came from.
func (e *Exporter) ExportRoot(ctx context.Context, r *hottrack.Root, topN int) error {
	domain := r.Domain()
	for _, k := range []hottrack.Kind{hottrack.KindObject, hottrack.KindRange} {
		if err := e.Export(ctx, domain, k, r.Hottest(k, topN)); err != nil {
			return err
		}
	}
	err := e.rdb.HSet(ctx, e.metaKey(domain),
		"generation", r.Generation(),
		"exported_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis HSET %q: %w", e.metaKey(domain), err)
	}
	return nil
}

// Top reads back the n hottest members of domain/kind.
func (e *Exporter) Top(ctx context.Context, domain string, k hottrack.Kind, n int64) ([]redis.Z, error) {
	zs, err := e.rdb.ZRevRangeWithScores(ctx, e.Key(domain, k), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE %q: %w", e.Key(domain, k), err)
	}
	return zs, nil
}

// Sync exports every domain whose heat map changed since the last sync.
func (e *Exporter) Sync(ctx context.Context, src Source, topN int) {
	seen := make(map[string]bool)
	for _, d := range src.Domains() {
		seen[d] = true
		r, ok := src.Get(d)
		if !ok {
			continue
		}
		cur := snapshot{root: r, gen: r.Generation()}
		if last, ok := e.exported[d]; ok && last == cur {
			continue
		}
		if err := e.ExportRoot(ctx, r, topN); err != nil {
			e.log.Warn().Err(err).Str("domain", d).Msg("heat export failed")
			continue
		}
		e.exported[d] = cur
	}
	for d := range e.exported {
		if !seen[d] {
			delete(e.exported, d)
		}
	}
}

// Run syncs every interval until ctx is done.
func (e *Exporter) Run(ctx context.Context, src Source, interval time.Duration, topN int) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	e.log.Info().Dur("interval", interval).Int("top_n", topN).Msg("heat export started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.Sync(ctx, src, topN)
		}
	}
}
