package hottrack

import (
	"cmp"
	"container/list"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	HeatMapBits = 8
	HeatMapSize = 1 << HeatMapBits
)

// BucketFor returns the heat map bucket of a temperature: its top HeatMapBits bits.
func BucketFor(temp uint32) int {
	return int(temp >> (32 - HeatMapBits))
}

// Entry is a point-in-time view of one bucketed item.
type Entry struct {
	Kind        Kind   `json:"kind"`
	ObjectID    uint64 `json:"object_id"`
	RangeIndex  uint32 `json:"range_index,omitempty"`
	Temperature uint32 `json:"temperature"`
	Bucket      int    `json:"bucket"`
}

type bucket struct {
	mu    sync.Mutex
	items list.List
}

// HeatMap partitions items of each kind into HeatMapSize temperature buckets.
// Membership is maintained by aging passes; the hot path never touches it.
//
// Lock order: item lock, then bucket lock.
type HeatMap struct {
	kinds [numKinds][HeatMapSize]bucket
	count atomic.Int64
}

func newHeatMap() *HeatMap { return &HeatMap{} }

// Len returns how many items are linked into any bucket.
func (h *HeatMap) Len() int { return int(h.count.Load()) }

func (h *HeatMap) BucketLen(k Kind, idx int) int {
	if !validBucket(k, idx) {
		return 0
	}
	b := &h.kinds[k][idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Len()
}

// moveLocked puts it into the bucket of temp unless it is already there and
// records temp. it.mu must be held. It reports whether the item moved.
func (h *HeatMap) moveLocked(it *Item, temp uint32) bool {
	idx := BucketFor(temp)
	moved := false
	if it.elem == nil || it.bucket != idx {
		if it.elem != nil {
			old := &h.kinds[it.kind][it.bucket]
			old.mu.Lock()
			old.items.Remove(it.elem)
			old.mu.Unlock()
			h.count.Add(-1)
		}
		b := &h.kinds[it.kind][idx]
		b.mu.Lock()
		it.elem = b.items.PushBack(it)
		b.mu.Unlock()
		it.bucket = idx
		h.count.Add(1)
		moved = true
	}
	it.freq.LastTemperature = temp
	it.temp.Store(temp)
	return moved
}

func (h *HeatMap) unlink(it *Item) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.elem == nil {
		return
	}
	b := &h.kinds[it.kind][it.bucket]
	b.mu.Lock()
	b.items.Remove(it.elem)
	b.mu.Unlock()
	it.elem = nil
	it.bucket = -1
	h.count.Add(-1)
}

// sort orders every bucket by temperature, hottest first, stable on ties.
// Readers may see a bucket before or after its sort, never a torn list.
func (h *HeatMap) sort() {
	var elems []*list.Element
	for k := range h.kinds {
		for i := range h.kinds[k] {
			b := &h.kinds[k][i]
			b.mu.Lock()
			if b.items.Len() > 1 {
				elems = elems[:0]
				for e := b.items.Front(); e != nil; e = e.Next() {
					elems = append(elems, e)
				}
				slices.SortStableFunc(elems, func(x, y *list.Element) int {
					return cmp.Compare(y.Value.(*Item).temp.Load(), x.Value.(*Item).temp.Load())
				})
				for _, e := range elems {
					b.items.MoveToBack(e)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Bucket returns a snapshot of one bucket in its current order.
func (h *HeatMap) Bucket(k Kind, idx int) []Entry {
	if !validBucket(k, idx) {
		return nil
	}
	return h.appendBucket(nil, k, idx, -1)
}

// Hottest returns up to n entries walking buckets from the hottest down.
func (h *HeatMap) Hottest(k Kind, n int) []Entry {
	if n <= 0 || int(k) >= numKinds {
		return nil
	}
	out := make([]Entry, 0, min(n, h.Len()))
	for idx := HeatMapSize - 1; idx >= 0 && len(out) < n; idx-- {
		out = h.appendBucket(out, k, idx, n-len(out))
	}
	return out
}

// Coldest is Hottest from the other end; entries within a bucket are
// reported coldest first.
func (h *HeatMap) Coldest(k Kind, n int) []Entry {
	if n <= 0 || int(k) >= numKinds {
		return nil
	}
	out := make([]Entry, 0, min(n, h.Len()))
	for idx := 0; idx < HeatMapSize && len(out) < n; idx++ {
		b := &h.kinds[k][idx]
		b.mu.Lock()
		for e := b.items.Back(); e != nil && len(out) < n; e = e.Prev() {
			out = append(out, entryOf(e.Value.(*Item), idx))
		}
		b.mu.Unlock()
	}
	return out
}

func (h *HeatMap) appendBucket(out []Entry, k Kind, idx, limit int) []Entry {
	b := &h.kinds[k][idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	// a negative limit never reaches zero
	for e := b.items.Front(); e != nil && limit != 0; e = e.Next() {
		out = append(out, entryOf(e.Value.(*Item), idx))
		limit--
	}
	return out
}

func entryOf(it *Item, idx int) Entry {
	return Entry{
		Kind:        it.kind,
		ObjectID:    it.objectID,
		RangeIndex:  it.start,
		Temperature: it.temp.Load(),
		Bucket:      idx,
	}
}

func validBucket(k Kind, idx int) bool {
	return int(k) < numKinds && idx >= 0 && idx < HeatMapSize
}
