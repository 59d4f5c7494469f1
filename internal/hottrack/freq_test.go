package hottrack

import (
	"math"
	"testing"
)

func TestFrequencyData_FirstAccessSetsTimestampOnly(t *testing.T) {
	fd := NewFrequencyData(KindObject)
	fd.Record(Default(), false, 1000)

	if fd.ReadCount != 1 || fd.WriteCount != 0 {
		t.Fatalf("counts = %d/%d want 1/0", fd.ReadCount, fd.WriteCount)
	}
	if fd.LastReadTime != 1000 {
		t.Fatalf("last read = %d want 1000", fd.LastReadTime)
	}
	if fd.AvgReadInterval != math.MaxUint64 {
		t.Fatalf("avg read interval moved on first access: %d", fd.AvgReadInterval)
	}
	if fd.LastWriteTime != Never || fd.AvgWriteInterval != math.MaxUint64 {
		t.Fatalf("write side touched by a read: %+v", fd)
	}
}

func TestFrequencyData_SecondAccessDecays(t *testing.T) {
	fd := NewFrequencyData(KindRange)
	fd.Record(Default(), true, 0)
	fd.Record(Default(), true, 1600)

	// ((MaxUint64<<4) - MaxUint64 + 1600>>4) >> 4 wraps to (100-15)>>4
	if fd.AvgWriteInterval != 5 {
		t.Fatalf("avg write interval = %d want 5", fd.AvgWriteInterval)
	}
	if fd.WriteCount != 2 || fd.LastWriteTime != 1600 {
		t.Fatalf("unexpected write state: %+v", fd)
	}
}

func TestFrequencyData_CountsSaturate(t *testing.T) {
	fd := NewFrequencyData(KindObject)
	fd.ReadCount = math.MaxUint32 - 1
	fd.WriteCount = math.MaxUint32

	fd.Record(Default(), false, 1)
	fd.Record(Default(), false, 2)
	fd.Record(Default(), true, 3)

	if fd.ReadCount != math.MaxUint32 || fd.WriteCount != math.MaxUint32 {
		t.Fatalf("counts wrapped: %d/%d", fd.ReadCount, fd.WriteCount)
	}
}

func TestFrequencyData_CountsMatchCalls(t *testing.T) {
	fd := NewFrequencyData(KindObject)
	reads, writes := 0, 0
	for i := range 1000 {
		w := i%3 == 0
		if w {
			writes++
		} else {
			reads++
		}
		fd.Record(Default(), w, uint64(i)*1e6)
	}
	if int(fd.ReadCount) != reads || int(fd.WriteCount) != writes {
		t.Fatalf("counts = %d/%d want %d/%d", fd.ReadCount, fd.WriteCount, reads, writes)
	}
}

func TestElapsed(t *testing.T) {
	cases := []struct {
		ts, now, want uint64
	}{
		{Never, 0, math.MaxUint64},
		{Never, 1 << 40, math.MaxUint64},
		{10, 5, 0},
		{5, 10, 5},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := elapsed(tc.ts, tc.now); got != tc.want {
			t.Fatalf("elapsed(%d,%d)=%d want %d", tc.ts, tc.now, got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"object": KindObject, "Ranges": KindRange, " range ": KindRange} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("inode"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
