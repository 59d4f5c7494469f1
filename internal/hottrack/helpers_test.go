package hottrack

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/hottrack/internal/clock"
	"github.com/mohammed-shakir/hottrack/internal/observability"
)

const rangeBits4K = 12

func newTestRoot(t *testing.T, opts ...Option) (*Root, *clock.Mock) {
	t.Helper()
	mc := clock.NewMock(time.Unix(0, 0))
	base := []Option{
		WithClock(mc),
		WithManualAging(),
		WithRangeBits(rangeBits4K),
		WithStrictInvariants(),
	}
	r, err := New("test", append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Stop)
	return r, mc
}

func kickPolicy(d time.Duration) Policy {
	p := DefaultParams()
	p.KickThreshold = d
	return NewDefaultPolicy(p)
}

func objectItem(t *testing.T, r *Root, id uint64) *Item {
	t.Helper()
	s := r.objects.pick(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[id]
	if it == nil {
		t.Fatalf("object %d not indexed", id)
	}
	return it
}

// withMetrics points the collectors at a fresh registry for one test.
func withMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)
	t.Cleanup(func() { observability.Init(nil, false) })
	return reg
}

func expectRecordErrors(t *testing.T, reg *prometheus.Registry, reason string, n int) {
	t.Helper()
	want := `
# HELP hottrack_record_errors_total Accesses that could not be fully recorded.
# TYPE hottrack_record_errors_total counter
hottrack_record_errors_total{domain="test",reason="` + reason + `"} ` + strconv.Itoa(n) + `
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "hottrack_record_errors_total"); err != nil {
		t.Fatal(err)
	}
}
