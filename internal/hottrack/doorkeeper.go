package hottrack

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// doorkeeper keeps one-off object ids out of the index: an object is admitted
// on its second sighting within one aging period.
type doorkeeper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newDoorkeeper(n uint, fp float64) *doorkeeper {
	return &doorkeeper{filter: bloom.NewWithEstimates(n, fp)}
}

func (d *doorkeeper) admit(id uint64) bool {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.TestAndAdd(b[:])
}

func (d *doorkeeper) reset() {
	d.mu.Lock()
	d.filter.ClearAll()
	d.mu.Unlock()
}
