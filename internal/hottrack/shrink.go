package hottrack

import (
	"sync/atomic"

	"github.com/mohammed-shakir/hottrack/internal/observability"
)

// shrinkScan bounds how many of the coldest entries one shrink inspects.
const shrinkScan = 4

// admit reserves room for one more item of kind k. At the limit it evicts
// the coldest bucketed item of that kind and tries once more.
func (r *Root) admit(n *atomic.Int64, limit int64, k Kind) bool {
	if reserve(n, limit) {
		return true
	}
	return r.shrink(k) && reserve(n, limit)
}

// shrink releases the index reference of the coldest bucketed item of kind
// k. Items no pass has scored yet are never chosen.
func (r *Root) shrink(k Kind) bool {
	for _, e := range r.heat.Coldest(k, shrinkScan) {
		if r.evictEntry(e) {
			return true
		}
	}
	return false
}

func (r *Root) evictEntry(e Entry) bool {
	obj := r.objects.pick(e.ObjectID).lookup(e.ObjectID, false)
	if obj == nil {
		return false
	}
	defer r.put(obj)

	it := obj
	if e.Kind == KindRange {
		if it = obj.ranges.lookup(e.RangeIndex, false); it == nil {
			return false
		}
		defer r.put(it)
	}
	if !r.dropIndexRef(it) {
		return false
	}

	observability.IncEviction(r.domain, e.Kind.String())
	r.log.Debug().
		Str("kind", e.Kind.String()).
		Uint64("object_id", e.ObjectID).
		Uint32("range_index", e.RangeIndex).
		Int("bucket", e.Bucket).
		Msg("evicted coldest item at limit")
	typ := EventObjectEvicted
	if e.Kind == KindRange {
		typ = EventRangeEvicted
	}
	r.emit(Event{Type: typ, Kind: e.Kind.String(), ObjectID: e.ObjectID, RangeIndex: e.RangeIndex, Temperature: e.Temperature})
	return true
}
