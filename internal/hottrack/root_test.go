package hottrack

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) count(typ EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestRoot_ColdRangesAreEvictedObjectStays(t *testing.T) {
	sink := &recordingSink{}
	r, mc := newTestRoot(t, WithPolicy(kickPolicy(60*time.Second)), WithEventSink(sink))

	r.RecordAccess(42, 0, 8192, false)
	if got := r.Ranges(42); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("ranges = %v want [0 1]", got)
	}

	rep := r.Age()
	if rep.Objects != 1 || rep.Ranges != 2 || rep.EvictedRanges != 0 {
		t.Fatalf("first pass = %+v", rep)
	}
	if got := r.HeatMap().BucketLen(KindRange, 64); got != 2 {
		t.Fatalf("range bucket 64 len = %d want 2", got)
	}
	st, ok := r.LookupRange(42, 1)
	if !ok {
		t.Fatal("range 1 not found")
	}
	if st.Freq.ReadCount != 1 || st.Bucket != 64 || st.RangeLength != 4096 {
		t.Fatalf("range stats = %+v", st)
	}
	if st.Freq.LastTemperature != 1<<30+1<<17 {
		t.Fatalf("LastTemperature = %d", st.Freq.LastTemperature)
	}

	mc.Advance(61 * time.Second)
	rep = r.Age()
	if rep.EvictedRanges != 2 || rep.EvictedObjects != 0 {
		t.Fatalf("second pass = %+v", rep)
	}
	if got := r.Ranges(42); len(got) != 0 {
		t.Fatalf("ranges after eviction = %v", got)
	}
	if _, ok := r.Lookup(42); !ok {
		t.Fatal("object evicted without object eviction enabled")
	}
	if got := objectItem(t, r, 42).refs.Load(); got != 1 {
		t.Fatalf("object refs = %d want 1", got)
	}
	info := r.Info()
	if info.Objects != 1 || info.Ranges != 0 || info.Bucketed != 1 || info.Generation != 2 {
		t.Fatalf("info = %+v", info)
	}
	if sink.count(EventRangeEvicted) != 2 || sink.count(EventPassCompleted) != 2 {
		t.Fatalf("events = %+v", sink.events)
	}

	// a fresh access recreates ranges from scratch
	r.RecordAccess(42, 4096, 1, true)
	st, ok = r.LookupRange(42, 1)
	if !ok || st.Freq.ReadCount != 0 || st.Freq.WriteCount != 1 {
		t.Fatalf("recreated range stats = %+v ok=%v", st, ok)
	}
}

func TestRoot_ObjectEviction(t *testing.T) {
	sink := &recordingSink{}
	r, mc := newTestRoot(t,
		WithPolicy(kickPolicy(60*time.Second)),
		WithObjectEviction(true),
		WithEventSink(sink),
	)

	r.RecordAccess(42, 0, 8192, false)
	r.Age()
	mc.Advance(61 * time.Second)
	rep := r.Age()

	if rep.EvictedRanges != 2 || rep.EvictedObjects != 1 {
		t.Fatalf("pass = %+v", rep)
	}
	if _, ok := r.Lookup(42); ok {
		t.Fatal("obsolete object still tracked")
	}
	info := r.Info()
	if info.Objects != 0 || info.Ranges != 0 || info.Bucketed != 0 {
		t.Fatalf("info = %+v", info)
	}
	if sink.count(EventObjectEvicted) != 1 {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestRoot_RecentlyWrittenObjectIsKept(t *testing.T) {
	r, mc := newTestRoot(t, WithPolicy(kickPolicy(60*time.Second)), WithObjectEviction(true))

	r.RecordAccess(1, 0, 4096, false)
	mc.Advance(50 * time.Second)
	r.RecordAccess(1, 8192, 4096, true)
	mc.Advance(20 * time.Second)

	rep := r.Age()
	// range 0 is 70s cold, range 2 and the object were written 20s ago
	if rep.EvictedRanges != 1 || rep.EvictedObjects != 0 {
		t.Fatalf("pass = %+v", rep)
	}
	if got := r.Ranges(1); len(got) != 1 || got[0] != 2 {
		t.Fatalf("ranges = %v want [2]", got)
	}
}

func TestRoot_RecordAccessSpans(t *testing.T) {
	r, _ := newTestRoot(t)

	cases := []struct {
		name       string
		id, off, n uint64
		want       []uint32
	}{
		{"single byte", 1, 100, 1, []uint32{0}},
		{"straddles boundary", 2, 4095, 2, []uint32{0, 1}},
		{"exact range", 3, 4096, 4096, []uint32{1}},
		{"three ranges", 4, 4096, 3 * 4096, []uint32{1, 2, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r.RecordAccess(tc.id, tc.off, tc.n, false)
			got := r.Ranges(tc.id)
			if len(got) != len(tc.want) {
				t.Fatalf("ranges = %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("ranges = %v want %v", got, tc.want)
				}
			}
			st, _ := r.Lookup(tc.id)
			if st.Freq.ReadCount != 1 {
				t.Fatalf("object read count = %d want 1", st.Freq.ReadCount)
			}
		})
	}
}

func TestRoot_RecordAccessEdges(t *testing.T) {
	r, _ := newTestRoot(t)

	r.RecordAccess(1, 0, 0, false)
	if _, ok := r.Lookup(1); ok {
		t.Fatal("zero-length access created an object")
	}

	// beyond the last trackable range only the object is recorded
	r.RecordAccess(2, math.MaxUint64-10, 100, true)
	st, ok := r.Lookup(2)
	if !ok || st.Freq.WriteCount != 1 {
		t.Fatalf("object stats = %+v ok=%v", st, ok)
	}
	if got := r.Ranges(2); len(got) != 0 {
		t.Fatalf("ranges = %v want none", got)
	}
}

func TestRoot_RecordAccessSpanCap(t *testing.T) {
	reg := withMetrics(t)
	r, _ := newTestRoot(t)

	r.RecordAccess(1, 0, 1<<32, false)
	got := r.Ranges(1)
	if len(got) != DefaultMaxSpanRanges || got[0] != 0 || got[len(got)-1] != DefaultMaxSpanRanges-1 {
		t.Fatalf("recorded %d ranges, want the first %d", len(got), DefaultMaxSpanRanges)
	}
	if info := r.Info(); info.Ranges != DefaultMaxSpanRanges {
		t.Fatalf("info = %+v", info)
	}
	if st, _ := r.Lookup(1); st.Freq.ReadCount != 1 {
		t.Fatalf("object read count = %d want 1", st.Freq.ReadCount)
	}
	expectRecordErrors(t, reg, "resource_exhausted", 1)
}

func TestRoot_RecordAccessSpanCapOption(t *testing.T) {
	reg := withMetrics(t)
	r, _ := newTestRoot(t, WithMaxSpanRanges(3))

	r.RecordAccess(1, 4096, 3*4096, true)
	r.RecordAccess(1, 4096, 10*4096, true)
	got := r.Ranges(1)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("ranges = %v want [1 2 3]", got)
	}
	st, _ := r.LookupRange(1, 2)
	if st.Freq.WriteCount != 2 {
		t.Fatalf("range 2 write count = %d want 2", st.Freq.WriteCount)
	}
	expectRecordErrors(t, reg, "resource_exhausted", 1)
}

func TestRoot_ReadWriteCounts(t *testing.T) {
	r, mc := newTestRoot(t)
	for i := range 5 {
		r.RecordAccess(7, 0, 1, i%2 == 0)
		mc.Advance(time.Second)
	}
	st, _ := r.Lookup(7)
	if st.Freq.WriteCount != 3 || st.Freq.ReadCount != 2 {
		t.Fatalf("counts = %+v", st.Freq)
	}
	if st.Freq.LastWriteTime != uint64(4*time.Second) || st.Freq.LastReadTime != uint64(3*time.Second) {
		t.Fatalf("timestamps = %+v", st.Freq)
	}
	if st.Temperature == 0 {
		t.Fatal("accessed object has zero temperature")
	}
}

func TestRoot_Limits(t *testing.T) {
	r, _ := newTestRoot(t, WithMaxObjects(1), WithMaxRanges(2))

	r.RecordAccess(1, 0, 4*4096, false)
	r.RecordAccess(2, 0, 1, false)

	if _, ok := r.Lookup(2); ok {
		t.Fatal("object limit not enforced")
	}
	if got := r.Ranges(1); len(got) != 2 {
		t.Fatalf("ranges = %v want 2 of them", got)
	}
	info := r.Info()
	if info.Objects != 1 || info.Ranges != 2 {
		t.Fatalf("info = %+v", info)
	}
	if _, err := r.findObject(3); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("findObject err = %v want ErrResourceExhausted", err)
	}
}

// byReads puts an item with n reads into bucket n.
var byReads = &Funcs{Temp: func(fd *FrequencyData, now uint64) uint32 {
	return min(fd.ReadCount, HeatMapSize-1) << (32 - HeatMapBits)
}}

func TestRoot_LimitEvictsColdestRange(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newTestRoot(t, WithPolicy(byReads), WithMaxRanges(2), WithEventSink(sink))

	r.RecordAccess(1, 0, 2*4096, false)
	r.RecordAccess(1, 4096, 1, false)
	r.RecordAccess(1, 4096, 1, false)
	r.Age()
	if got := r.HeatMap().BucketLen(KindRange, 1); got != 1 {
		t.Fatalf("bucket 1 len = %d want 1", got)
	}

	r.RecordAccess(1, 5*4096, 1, false)
	if got := r.Ranges(1); len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Fatalf("ranges = %v want [1 5]", got)
	}
	if info := r.Info(); info.Ranges != 2 || info.Bucketed != 2 {
		t.Fatalf("info = %+v", info)
	}
	if n := sink.count(EventRangeEvicted); n != 1 {
		t.Fatalf("range evictions = %d want 1", n)
	}
}

func TestRoot_LimitEvictsColdestObject(t *testing.T) {
	r, _ := newTestRoot(t, WithPolicy(byReads), WithMaxObjects(2))

	r.RecordAccess(1, 0, 4096, false)
	r.RecordAccess(2, 0, 4096, false)
	r.RecordAccess(2, 0, 4096, false)
	r.Age()

	r.RecordAccess(3, 0, 4096, false)
	if _, ok := r.Lookup(1); ok {
		t.Fatal("coldest object kept at the limit")
	}
	for _, id := range []uint64{2, 3} {
		if _, ok := r.Lookup(id); !ok {
			t.Fatalf("object %d not tracked", id)
		}
	}
	// ranges of the evicted object go with it
	if info := r.Info(); info.Objects != 2 || info.Ranges != 2 {
		t.Fatalf("info = %+v", info)
	}
}

func TestRoot_Doorkeeper(t *testing.T) {
	r, _ := newTestRoot(t, WithDoorkeeper(1000, 0.001))

	r.RecordAccess(7, 0, 1, false)
	if _, ok := r.Lookup(7); ok {
		t.Fatal("object admitted on first sighting")
	}
	r.RecordAccess(7, 0, 1, false)
	st, ok := r.Lookup(7)
	if !ok || st.Freq.ReadCount != 1 {
		t.Fatalf("object after second sighting = %+v ok=%v", st, ok)
	}
	r.RecordAccess(7, 0, 1, false)
	if st, _ := r.Lookup(7); st.Freq.ReadCount != 2 {
		t.Fatalf("tracked object read count = %d want 2", st.Freq.ReadCount)
	}

	r.RecordAccess(8, 0, 1, false)
	r.Age()
	r.RecordAccess(8, 0, 1, false)
	if _, ok := r.Lookup(8); ok {
		t.Fatal("doorkeeper not reset by aging")
	}
}

func TestRoot_Stop(t *testing.T) {
	r, _ := newTestRoot(t)
	for id := range uint64(10) {
		r.RecordAccess(id, 0, 3*4096, false)
	}
	r.Age()
	if r.HeatMap().Len() != 40 {
		t.Fatalf("bucketed = %d want 40", r.HeatMap().Len())
	}

	r.Stop()
	info := r.Info()
	if !info.Stopped || info.Objects != 0 || info.Ranges != 0 || info.Bucketed != 0 {
		t.Fatalf("info after Stop = %+v", info)
	}

	r.RecordAccess(1, 0, 1, false)
	if _, ok := r.Lookup(1); ok {
		t.Fatal("access recorded after Stop")
	}
	if rep := r.Age(); !rep.Aborted {
		t.Fatal("aging ran after Stop")
	}
	r.Stop()
}

func TestNew_RejectsBadOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"range bits":     WithRangeBits(64),
		"aging interval": WithAgingInterval(0),
		"object limit":   WithMaxObjects(-1),
		"span limit":     WithMaxSpanRanges(0),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := New("bad", WithManualAging(), opt); !errors.Is(err, ErrInvalidOption) {
				t.Fatalf("err = %v want ErrInvalidOption", err)
			}
		})
	}
}

func TestRoot_ConcurrentAccessAndAging(t *testing.T) {
	r, mc := newTestRoot(t, WithPolicy(kickPolicy(60*time.Second)), WithObjectEviction(true))

	const workers = 8
	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for range 3000 {
				id := uint64(rng.Intn(32))
				off := uint64(rng.Intn(16 * 4096))
				r.RecordAccess(id, off, uint64(1+rng.Intn(3*4096)), rng.Intn(4) == 0)
				if rng.Intn(64) == 0 {
					r.Lookup(id)
					r.Ranges(id)
				}
			}
		}()
	}

	var ager sync.WaitGroup
	ager.Add(1)
	go func() {
		defer ager.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			mc.Advance(40 * time.Second)
			r.Age()
		}
	}()

	wg.Wait()
	close(done)
	ager.Wait()

	mc.Advance(time.Hour)
	r.Age()
	if info := r.Info(); info.Objects != 0 || info.Ranges != 0 || info.Bucketed != 0 {
		t.Fatalf("everything should be cold and evicted: %+v", info)
	}
}
