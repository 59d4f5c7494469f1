// Package hottrack tracks how hot storage objects and their fixed-size ranges
// are. Every read or write is recorded into reference-counted items held in
// a concurrent index; a background aging pass turns the raw statistics into
// temperatures, files items into a bucketed heat map and releases ranges
// that went cold.
package hottrack

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/clock"
	"github.com/mohammed-shakir/hottrack/internal/observability"
)

// Root tracks one storage domain, such as a mounted volume.
type Root struct {
	domain     string
	policy     Policy
	policyName string
	// scorer is policy without decorators, for lookups.
	scorer Policy

	objects *objectIndex
	heat    *HeatMap
	aging   *Scheduler

	clock        clock.Clock
	log          zerolog.Logger
	rangeBits    uint
	maxObjects   int64
	maxRanges    int64
	maxSpan      uint64
	evictObjects bool
	strict       bool
	doorkeeper   *doorkeeper
	sink         EventSink

	objectCount atomic.Int64
	rangeCount  atomic.Int64
	generation  atomic.Uint64

	// gate lets Stop wait out in-flight RecordAccess calls.
	gate    sync.RWMutex
	stopped atomic.Bool
	passMu  sync.Mutex
	stopMu  sync.Once
}

// Stats is a point-in-time copy of one item's statistics.
type Stats struct {
	Kind        Kind          `json:"kind"`
	ObjectID    uint64        `json:"object_id"`
	RangeIndex  uint32        `json:"range_index,omitempty"`
	RangeLength uint64        `json:"range_length,omitempty"`
	Freq        FrequencyData `json:"freq"`
	Temperature uint32        `json:"temperature"`
	Bucket      int           `json:"bucket"`
}

type Info struct {
	Domain     string `json:"domain"`
	Policy     string `json:"policy"`
	RangeBits  uint   `json:"range_bits"`
	Objects    int64  `json:"objects"`
	Ranges     int64  `json:"ranges"`
	Bucketed   int    `json:"bucketed"`
	Generation uint64 `json:"generation"`
	Aging      string `json:"aging"`
	Stopped    bool   `json:"stopped"`
}

// New starts tracking a domain. Unless WithManualAging is given the aging
// scheduler is running when New returns.
func New(domain string, opts ...Option) (*Root, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	if o.rangeBits > maxRangeBits {
		return nil, fmt.Errorf("%w: range bits %d above %d", ErrInvalidOption, o.rangeBits, maxRangeBits)
	}
	if o.agingInterval <= 0 {
		return nil, fmt.Errorf("%w: aging interval must be positive", ErrInvalidOption)
	}
	if o.maxObjects < 0 || o.maxRanges < 0 {
		return nil, fmt.Errorf("%w: item limits must not be negative", ErrInvalidOption)
	}
	if o.maxSpan == 0 {
		return nil, fmt.Errorf("%w: span limit must be positive", ErrInvalidOption)
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}

	r := &Root{
		domain:       domain,
		objects:      newObjectIndex(),
		heat:         newHeatMap(),
		clock:        o.clock,
		log:          o.logger.With().Str("domain", domain).Logger(),
		rangeBits:    o.rangeBits,
		maxObjects:   o.maxObjects,
		maxRanges:    o.maxRanges,
		maxSpan:      o.maxSpan,
		evictObjects: o.evictObjects,
		strict:       o.strict,
		sink:         o.sink,
	}
	switch {
	case o.policy != nil:
		r.policy, r.policyName = o.policy, "custom"
	case o.registry != nil:
		r.policy, r.policyName = o.registry.Resolve(o.policyName)
	default:
		r.policy, r.policyName = builtin, DefaultPolicyName
	}
	r.scorer = Innermost(r.policy)
	if r.policyName != o.policyName && o.policy == nil {
		r.log.Warn().Str("policy", o.policyName).Msg("unknown policy; falling back to default")
	}
	if o.doorkeeperN > 0 {
		r.doorkeeper = newDoorkeeper(o.doorkeeperN, o.doorkeeperFP)
	}

	r.aging = newScheduler(o.agingInterval, r.scheduledPass)
	if !o.manualAging {
		r.aging.Start()
	}
	r.log.Info().
		Str("policy", r.policyName).
		Uint("range_bits", r.rangeBits).
		Dur("aging_interval", o.agingInterval).
		Msg("hot data tracking enabled")
	return r, nil
}

func (r *Root) Domain() string    { return r.domain }
func (r *Root) HeatMap() *HeatMap { return r.heat }
func (r *Root) Policy() Policy    { return r.policy }

// RangeSize is the length in bytes of one tracked range.
func (r *Root) RangeSize() uint64 { return 1 << r.rangeBits }

func (r *Root) now() uint64 {
	ns := r.clock.Now().UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// RecordAccess records one I/O of length bytes at offset. It updates the
// object once and each range the request touches once. Failures are logged
// and counted, never returned: instrumentation must not fail the I/O.
func (r *Root) RecordAccess(objectID, offset, length uint64, write bool) {
	if length == 0 {
		return
	}
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.stopped.Load() {
		return
	}
	if r.doorkeeper != nil && !r.objects.pick(objectID).contains(objectID) &&
		!r.doorkeeper.admit(objectID) {
		return
	}

	now := r.now()
	obj, err := r.findObject(objectID)
	if err != nil {
		r.recordFailure(err, objectID)
		return
	}
	defer r.put(obj)

	obj.mu.Lock()
	obj.freq.Record(r.policy, write, now)
	obj.mu.Unlock()
	observability.IncAccess(r.domain, write)

	first := offset >> r.rangeBits
	end := offset + length - 1
	if end < offset {
		end = math.MaxUint64
	}
	last := end >> r.rangeBits
	if first > math.MaxUint32 {
		r.recordFailure(fmt.Errorf("%w: offset %d beyond the last trackable range", ErrResourceExhausted, offset), objectID)
		return
	}
	last = min(last, math.MaxUint32)
	if span := last - first + 1; span > r.maxSpan {
		r.recordFailure(fmt.Errorf("%w: access spans %d ranges, limit %d", ErrResourceExhausted, span, r.maxSpan), objectID)
		last = first + r.maxSpan - 1
	}

	for cur := first; cur <= last; cur++ {
		rg, err := r.findRange(obj, uint32(cur))
		if err != nil {
			r.recordFailure(err, objectID)
			return
		}
		rg.mu.Lock()
		rg.freq.Record(r.policy, write, now)
		rg.mu.Unlock()
		r.put(rg)
	}
}

func (r *Root) findObject(id uint64) (*Item, error) {
	shard := r.objects.pick(id)
	if it := shard.lookup(id, true); it != nil {
		return it, nil
	}
	if !r.admit(&r.objectCount, r.maxObjects, KindObject) {
		return nil, fmt.Errorf("%w: object limit %d reached", ErrResourceExhausted, r.maxObjects)
	}
	it, inserted := shard.insert(id, newObjectItem(id))
	if !inserted {
		r.objectCount.Add(-1)
		return it, nil
	}
	observability.SetItems(r.domain, KindObject.String(), r.objectCount.Load())
	return it, nil
}

func (r *Root) findRange(obj *Item, start uint32) (*Item, error) {
	if it := obj.ranges.lookup(start, true); it != nil {
		return it, nil
	}
	if !r.admit(&r.rangeCount, r.maxRanges, KindRange) {
		return nil, fmt.Errorf("%w: range limit %d reached", ErrResourceExhausted, r.maxRanges)
	}
	it, inserted := obj.ranges.insert(start, newRangeItem(obj, start, r.RangeSize()))
	if !inserted {
		r.rangeCount.Add(-1)
		return it, nil
	}
	observability.SetItems(r.domain, KindRange.String(), r.rangeCount.Load())
	return it, nil
}

func reserve(n *atomic.Int64, limit int64) bool {
	if limit <= 0 {
		n.Add(1)
		return true
	}
	for {
		cur := n.Load()
		if cur >= limit {
			return false
		}
		if n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (r *Root) recordFailure(err error, objectID uint64) {
	reason := "internal"
	if errors.Is(err, ErrResourceExhausted) {
		reason = "resource_exhausted"
	}
	observability.IncRecordError(r.domain, reason)
	r.log.Warn().Err(err).Uint64("object_id", objectID).Msg("access not recorded")
}

// put drops one reference and destroys the item when it was the last.
func (r *Root) put(it *Item) {
	if it.tryFastPut() {
		return
	}
	var (
		dead bool
		err  error
	)
	if it.kind == KindRange {
		dead, err = it.owner.ranges.release(it.start, it)
	} else {
		dead, err = r.objects.pick(it.objectID).release(it.objectID, it)
	}
	if err != nil {
		r.invariant(err, it)
	}
	if dead {
		r.destroy(it)
	}
}

// dropIndexRef releases the reference the index holds, at most once per
// time the item was indexed. It reports whether it did.
func (r *Root) dropIndexRef(it *Item) bool {
	if !it.indexed.CompareAndSwap(true, false) {
		return false
	}
	r.put(it)
	return true
}

func (r *Root) destroy(it *Item) {
	if !it.freed.CompareAndSwap(false, true) {
		r.invariant(fmt.Errorf("%w: %s freed twice", ErrInvariantViolation, it.kind), it)
		return
	}
	r.heat.unlink(it)
	if it.kind == KindObject {
		// ranges still referenced elsewhere die with their last holder
		it.ranges.walk(func(rg *Item) {
			r.dropIndexRef(rg)
			r.put(rg)
		})
		observability.SetItems(r.domain, KindObject.String(), r.objectCount.Add(-1))
		return
	}
	observability.SetItems(r.domain, KindRange.String(), r.rangeCount.Add(-1))
}

func (r *Root) invariant(err error, it *Item) {
	if r.strict {
		panic(err)
	}
	r.log.Error().Err(err).
		Str("kind", it.kind.String()).
		Uint64("object_id", it.objectID).
		Uint32("range_index", it.start).
		Msg("tracking invariant violated")
}

// Lookup returns the statistics of an object. A missing object is simply
// the coldest possible one.
func (r *Root) Lookup(objectID uint64) (Stats, bool) {
	it := r.objects.pick(objectID).lookup(objectID, false)
	if it == nil {
		return Stats{}, false
	}
	defer r.put(it)
	return r.statsOf(it), true
}

// LookupRange returns the statistics of range idx of an object.
func (r *Root) LookupRange(objectID uint64, idx uint32) (Stats, bool) {
	obj := r.objects.pick(objectID).lookup(objectID, false)
	if obj == nil {
		return Stats{}, false
	}
	defer r.put(obj)
	rg := obj.ranges.lookup(idx, false)
	if rg == nil {
		return Stats{}, false
	}
	defer r.put(rg)
	return r.statsOf(rg), true
}

// Ranges lists the range indexes currently tracked for an object.
func (r *Root) Ranges(objectID uint64) []uint32 {
	obj := r.objects.pick(objectID).lookup(objectID, false)
	if obj == nil {
		return nil
	}
	defer r.put(obj)
	return obj.ranges.keys()
}

func (r *Root) statsOf(it *Item) Stats {
	fd, b := it.snapshot()
	return Stats{
		Kind:        it.kind,
		ObjectID:    it.objectID,
		RangeIndex:  it.start,
		RangeLength: it.length,
		Freq:        fd,
		Temperature: r.scorer.Temperature(&fd, r.now()),
		Bucket:      b,
	}
}

// Bucket is a snapshot of one heat map bucket.
func (r *Root) Bucket(k Kind, idx int) []Entry { return r.heat.Bucket(k, idx) }

// Hottest is a snapshot of the n hottest items of a kind.
func (r *Root) Hottest(k Kind, n int) []Entry { return r.heat.Hottest(k, n) }

// Generation counts completed aging passes.
func (r *Root) Generation() uint64 { return r.generation.Load() }

func (r *Root) Info() Info {
	return Info{
		Domain:     r.domain,
		Policy:     r.policyName,
		RangeBits:  r.rangeBits,
		Objects:    r.objectCount.Load(),
		Ranges:     r.rangeCount.Load(),
		Bucketed:   r.heat.Len(),
		Generation: r.generation.Load(),
		Aging:      r.aging.State().String(),
		Stopped:    r.stopped.Load(),
	}
}

// Stop ends tracking: it cancels and waits for the aging scheduler, waits
// for in-flight accesses, then releases every item. Calling it again is a
// no-op.
func (r *Root) Stop() {
	r.stopMu.Do(func() {
		r.aging.Stop()

		r.gate.Lock()
		r.stopped.Store(true)
		r.gate.Unlock()

		r.passMu.Lock()
		defer r.passMu.Unlock()
		for i := range r.objects.shards {
			r.objects.shards[i].walk(func(obj *Item) {
				r.dropIndexRef(obj)
				r.put(obj)
			})
		}
		if n := r.heat.Len(); n != 0 {
			r.log.Error().Int("bucketed", n).Msg("heat map not empty after teardown")
		}
		observability.SetBucketed(r.domain, r.heat.Len())
		r.log.Info().Msg("hot data tracking disabled")
	})
}

func (r *Root) emit(ev Event) {
	if r.sink == nil {
		return
	}
	ev.Domain = r.domain
	ev.TS = time.Unix(0, int64(min(r.now(), math.MaxInt64))).UTC()
	r.sink.Publish(ev)
}
