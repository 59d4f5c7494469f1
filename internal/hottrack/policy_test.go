package hottrack

import (
	"math"
	"testing"
	"time"
)

func TestDefaultPolicy_DecayUpdate(t *testing.T) {
	p := Default()
	// delta = 2560>>4 = 160; (1600*16 - 1600 + 160) >> 4
	if got := p.DecayUpdate(0, 2560, 1600); got != 1510 {
		t.Fatalf("DecayUpdate = %d want 1510", got)
	}
	// a clock that went backwards contributes a zero interval
	if got := p.DecayUpdate(5000, 10, 160); got != 150 {
		t.Fatalf("DecayUpdate backwards = %d want 150", got)
	}
}

func TestDefaultPolicy_TemperatureOfUntouchedItemIsZero(t *testing.T) {
	fd := NewFrequencyData(KindObject)
	if got := Default().Temperature(&fd, 1<<50); got != 0 {
		t.Fatalf("temperature = %d want 0", got)
	}
}

func TestDefaultPolicy_TemperatureAfterOneRead(t *testing.T) {
	fd := NewFrequencyData(KindRange)
	fd.Record(Default(), false, 0)

	got := Default().Temperature(&fd, 0)
	// count term (1<<20)>>3 plus recency term (1<<32)>>2
	want := uint32(1<<17 + 1<<30)
	if got != want {
		t.Fatalf("temperature = %d want %d", got, want)
	}
	if b := BucketFor(got); b != 64 {
		t.Fatalf("bucket = %d want 64", b)
	}
}

func TestDefaultPolicy_TemperatureMonotonicInCounts(t *testing.T) {
	p := Default()
	base := NewFrequencyData(KindObject)
	base.LastReadTime = 10 * uint64(time.Second)
	base.LastWriteTime = 20 * uint64(time.Second)
	base.AvgReadInterval = uint64(time.Second)
	base.AvgWriteInterval = uint64(time.Minute)
	now := 30 * uint64(time.Second)

	counts := []uint32{0, 1, 2, 100, 4095, 4096, 4097, 1 << 20, math.MaxUint32 - 1, math.MaxUint32}
	var prevR, prevW uint32
	for i, n := range counts {
		r := base
		r.ReadCount = n
		w := base
		w.WriteCount = n
		tr, tw := p.Temperature(&r, now), p.Temperature(&w, now)
		if i > 0 && (tr < prevR || tw < prevW) {
			t.Fatalf("temperature decreased at count %d: read %d->%d write %d->%d", n, prevR, tr, prevW, tw)
		}
		prevR, prevW = tr, tw
	}
}

func TestDefaultPolicy_RecencyCooling(t *testing.T) {
	p := Default()
	fd := NewFrequencyData(KindObject)
	fd.Record(p, false, 0)

	fresh := p.Temperature(&fd, 0)
	later := p.Temperature(&fd, uint64(time.Hour))
	if later >= fresh {
		t.Fatalf("temperature did not cool: %d -> %d", fresh, later)
	}
}

func TestHeatTerms(t *testing.T) {
	if got := countHeat(math.MaxUint32, 20); got != math.MaxUint32 {
		t.Fatalf("countHeat not clamped: %d", got)
	}
	if got := recencyHeat(math.MaxUint64, 30); got != 0 {
		t.Fatalf("recencyHeat of stale item = %d want 0", got)
	}
	if got := recencyHeat(0, 30); got != heatCeil {
		t.Fatalf("recencyHeat of fresh item = %d want %d", got, heatCeil)
	}
	if got := intervalHeat(0, 0); got != math.MaxUint32 {
		t.Fatalf("intervalHeat not clamped: %d", got)
	}
	if got := intervalHeat(math.MaxUint64, 40); got != 0 {
		t.Fatalf("intervalHeat of unknown interval = %d want 0", got)
	}
	if got := weigh(8, 3); got != 8 {
		t.Fatalf("weigh full coefficient = %d want 8", got)
	}
	if got := weigh(8, 0); got != 1 {
		t.Fatalf("weigh zero coefficient = %d want 1", got)
	}
}

func TestDefaultPolicy_IsObsolete(t *testing.T) {
	p := kickPolicy(60 * time.Second)
	sec := uint64(time.Second)

	readOnly := NewFrequencyData(KindRange)
	readOnly.Record(p, false, 0)

	both := NewFrequencyData(KindRange)
	both.Record(p, false, 0)
	both.Record(p, true, 30*sec)

	untouched := NewFrequencyData(KindRange)

	cases := []struct {
		name string
		fd   *FrequencyData
		now  uint64
		want bool
	}{
		{"read just now", &readOnly, 0, false},
		{"read at threshold", &readOnly, 60 * sec, false},
		{"read past threshold", &readOnly, 61 * sec, true},
		{"recent write keeps it", &both, 61 * sec, false},
		{"both past threshold", &both, 91 * sec, true},
		{"never accessed", &untouched, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.IsObsolete(tc.fd, tc.now); got != tc.want {
				t.Fatalf("IsObsolete = %v want %v", got, tc.want)
			}
		})
	}
}

func TestNewDefaultPolicy_DefaultsKickThreshold(t *testing.T) {
	p := NewDefaultPolicy(Params{})
	if got := p.Params().KickThreshold; got != DefaultKickThreshold {
		t.Fatalf("kick threshold = %v want %v", got, DefaultKickThreshold)
	}
}

func TestFuncs_FallBackToBuiltin(t *testing.T) {
	f := &Funcs{Temp: func(*FrequencyData, uint64) uint32 { return 7 }}
	fd := NewFrequencyData(KindObject)

	if got := f.Temperature(&fd, 0); got != 7 {
		t.Fatalf("custom temperature = %d want 7", got)
	}
	if got, want := f.DecayUpdate(0, 2560, 1600), Default().DecayUpdate(0, 2560, 1600); got != want {
		t.Fatalf("fallback decay = %d want %d", got, want)
	}
	if !f.IsObsolete(&fd, 0) {
		t.Fatal("fallback obsolescence should report untouched item obsolete")
	}
}
