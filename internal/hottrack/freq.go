package hottrack

import (
	"fmt"
	"math"
	"strings"
)

// Kind tells whether a tracked item covers a whole object or one range of it.
type Kind uint8

const (
	KindObject Kind = iota
	KindRange

	numKinds = 2
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "object", "objects":
		return KindObject, nil
	case "range", "ranges":
		return KindRange, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

// Never is the timestamp of a direction that has not been accessed yet.
const Never uint64 = math.MaxUint64

// FrequencyData holds the raw access statistics of one tracked item.
// Timestamps and intervals are nanoseconds.
type FrequencyData struct {
	LastReadTime     uint64 `json:"last_read_time"`
	LastWriteTime    uint64 `json:"last_write_time"`
	ReadCount        uint32 `json:"read_count"`
	WriteCount       uint32 `json:"write_count"`
	AvgReadInterval  uint64 `json:"avg_read_interval"`
	AvgWriteInterval uint64 `json:"avg_write_interval"`
	LastTemperature  uint32 `json:"last_temperature"`
	Kind             Kind   `json:"kind"`
}

// NewFrequencyData returns statistics for an item that was never accessed.
func NewFrequencyData(k Kind) FrequencyData {
	return FrequencyData{
		LastReadTime:     Never,
		LastWriteTime:    Never,
		AvgReadInterval:  math.MaxUint64,
		AvgWriteInterval: math.MaxUint64,
		Kind:             k,
	}
}

// Record applies one access at now. The interval average only moves once a
// previous access in the same direction exists.
func (fd *FrequencyData) Record(p Policy, write bool, now uint64) {
	if write {
		fd.WriteCount = satInc(fd.WriteCount)
		if fd.LastWriteTime != Never {
			fd.AvgWriteInterval = p.DecayUpdate(fd.LastWriteTime, now, fd.AvgWriteInterval)
		}
		fd.LastWriteTime = now
		return
	}
	fd.ReadCount = satInc(fd.ReadCount)
	if fd.LastReadTime != Never {
		fd.AvgReadInterval = p.DecayUpdate(fd.LastReadTime, now, fd.AvgReadInterval)
	}
	fd.LastReadTime = now
}

func satInc(n uint32) uint32 {
	if n == math.MaxUint32 {
		return n
	}
	return n + 1
}

// elapsed returns now-ts, treating Never as infinitely long ago and a
// timestamp from the future as zero.
func elapsed(ts, now uint64) uint64 {
	if ts == Never {
		return math.MaxUint64
	}
	if now < ts {
		return 0
	}
	return now - ts
}
