package clock

import (
	"sync"
	"testing"
	"time"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	now := Real{}.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Fatalf("Real.Now()=%v outside [%v, %v]", now, before, after)
	}
}

func TestMock_Advance(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)

	cases := []struct {
		name string
		d    time.Duration
		want time.Time
	}{
		{"one minute", time.Minute, start.Add(time.Minute)},
		{"zero", 0, start.Add(time.Minute)},
		{"backwards", -30 * time.Second, start.Add(30 * time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m.Advance(tc.d)
			if got := m.Now(); !got.Equal(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestMock_ConcurrentAdvance(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
			_ = m.Now()
		}()
	}
	wg.Wait()

	if got := m.Now().Unix(); got != n {
		t.Fatalf("got %d seconds want %d", got, n)
	}
}

func TestMock_Set(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	want := time.Unix(61, 0)
	m.Set(want)
	if !m.Now().Equal(want) {
		t.Fatalf("got %v want %v", m.Now(), want)
	}
}
