package hottrack

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// walkBatch bounds how many items a walk takes per lock acquisition.
const walkBatch = 8

const numShards = 64

// index is a lock-protected map from key to item. The lock only guards
// membership and reference transitions; item data has its own lock.
type index[K cmp.Ordered] struct {
	mu    sync.Mutex
	items map[K]*Item
}

type rangeIndex = index[uint32]

func newIndex[K cmp.Ordered]() *index[K] {
	return &index[K]{items: make(map[K]*Item)}
}

// lookup returns the item for key with a reference taken, or nil.
func (ix *index[K]) lookup(key K, revive bool) *Item {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	it := ix.items[key]
	if it != nil {
		it.acquire(revive)
	}
	return it
}

func (ix *index[K]) contains(key K) bool {
	ix.mu.Lock()
	_, ok := ix.items[key]
	ix.mu.Unlock()
	return ok
}

// insert stores fresh under key unless another caller got there first, in
// which case the winner is returned referenced and fresh is discarded.
func (ix *index[K]) insert(key K, fresh *Item) (*Item, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if it := ix.items[key]; it != nil {
		it.acquire(true)
		return it, false
	}
	ix.items[key] = fresh
	return fresh, true
}

// release drops one reference under the lock and unindexes the item when it
// was the last. It reports whether the item is now dead.
func (ix *index[K]) release(key K, it *Item) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := it.refs.Add(-1)
	switch {
	case n > 0:
		return false, nil
	case n < 0:
		return false, fmt.Errorf("%w: %s %v released with no references", ErrInvariantViolation, it.kind, key)
	}
	if cur, ok := ix.items[key]; !ok || cur != it {
		return true, fmt.Errorf("%w: %s %v missing from its index", ErrInvariantViolation, it.kind, key)
	}
	delete(ix.items, key)
	return true, nil
}

func (ix *index[K]) len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.items)
}

func (ix *index[K]) keys() []K {
	ix.mu.Lock()
	out := make([]K, 0, len(ix.items))
	for k := range ix.items {
		out = append(out, k)
	}
	ix.mu.Unlock()
	slices.Sort(out)
	return out
}

// acquireBatch references the items still present under keys.
func (ix *index[K]) acquireBatch(keys []K, out []*Item) []*Item {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, k := range keys {
		if it := ix.items[k]; it != nil {
			it.acquire(false)
			out = append(out, it)
		}
	}
	return out
}

// walk visits every item in key order, walkBatch items per lock hold. visit
// owns the reference it is handed and must release it.
func (ix *index[K]) walk(visit func(*Item)) {
	keys := ix.keys()
	buf := make([]*Item, 0, walkBatch)
	for len(keys) > 0 {
		n := min(walkBatch, len(keys))
		buf = ix.acquireBatch(keys[:n], buf[:0])
		keys = keys[n:]
		for _, it := range buf {
			visit(it)
		}
	}
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// objectIndex spreads objects over shards so concurrent I/O on different
// objects rarely shares a lock.
type objectIndex struct {
	shards [numShards]index[uint64]
}

func newObjectIndex() *objectIndex {
	oi := &objectIndex{}
	for i := range oi.shards {
		oi.shards[i].items = make(map[uint64]*Item)
	}
	return oi
}

func (oi *objectIndex) pick(id uint64) *index[uint64] {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	h := xxhash.Sum64(b[:])
	return &oi.shards[h&(numShards-1)]
}

func (oi *objectIndex) len() int {
	total := 0
	for i := range oi.shards {
		total += oi.shards[i].len()
	}
	return total
}
