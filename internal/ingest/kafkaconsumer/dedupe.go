package kafkaconsumer

import (
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// offsetDedupe remembers the last applied offset per topic partition so
// messages redelivered after a rebalance are not counted twice.
type offsetDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newOffsetDedupe(size int) *offsetDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &offsetDedupe{lru: c}
}

func partitionKey(topic string, partition int32) string {
	return topic + "/" + strconv.FormatInt(int64(partition), 10)
}

// shouldApply returns true if offset is beyond the last one applied.
func (d *offsetDedupe) shouldApply(topic string, partition int32, offset int64) bool {
	key := partitionKey(topic, partition)
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && offset <= last {
		return false
	}
	d.lru.Add(key, offset)
	return true
}
