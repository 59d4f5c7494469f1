package hottrack

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Item is the reference-counted unit of tracking: a whole object or one
// fixed-size range of it.
//
// While an item sits in its index, the index owns one reference, recorded by
// indexed. The last release happens under the index lock, together with the
// removal from the index, so a lookup never observes a dead item.
type Item struct {
	kind     Kind
	objectID uint64
	start    uint32 // range index, ranges only
	length   uint64 // bytes, ranges only

	owner  *Item       // ranges only
	ranges *rangeIndex // objects only

	refs    atomic.Int32
	indexed atomic.Bool
	freed   atomic.Bool

	// temp mirrors freq.LastTemperature for bucket sorting without mu.
	temp atomic.Uint32

	mu   sync.Mutex
	freq FrequencyData
	// bucket linkage, guarded by mu
	bucket int
	elem   *list.Element
}

func newObjectItem(id uint64) *Item {
	it := &Item{
		kind:     KindObject,
		objectID: id,
		ranges:   newIndex[uint32](),
	}
	it.init()
	return it
}

func newRangeItem(owner *Item, start uint32, length uint64) *Item {
	it := &Item{
		kind:     KindRange,
		objectID: owner.objectID,
		start:    start,
		length:   length,
		owner:    owner,
	}
	it.init()
	return it
}

// init leaves the item with two references: the index's and the caller's.
func (it *Item) init() {
	it.freq = NewFrequencyData(it.kind)
	it.bucket = -1
	it.refs.Store(2)
	it.indexed.Store(true)
}

func (it *Item) Kind() Kind       { return it.kind }
func (it *Item) ObjectID() uint64 { return it.objectID }
func (it *Item) RangeIndex() uint32 {
	return it.start
}

// acquire takes a caller reference. Must be called under the index lock.
// With revive, an item whose index reference was released by aging but that
// is still alive gets it back, since it is being accessed again.
func (it *Item) acquire(revive bool) {
	it.refs.Add(1)
	if revive && it.indexed.CompareAndSwap(false, true) {
		it.refs.Add(1)
	}
}

// tryFastPut drops a reference without the index lock when it cannot be the
// last one.
func (it *Item) tryFastPut() bool {
	for {
		n := it.refs.Load()
		if n <= 1 {
			return false
		}
		if it.refs.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (it *Item) snapshot() (FrequencyData, int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.freq, it.bucket
}
