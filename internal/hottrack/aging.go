package hottrack

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/hottrack/internal/observability"
)

type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Scheduler fires run every interval, never overlapping itself: the next
// firing is armed only after the previous one returned.
type Scheduler struct {
	interval time.Duration
	run      func(stop <-chan struct{})

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newScheduler(interval time.Duration, run func(stop <-chan struct{})) *Scheduler {
	return &Scheduler{
		interval: interval,
		run:      run,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) Start() {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateScheduled)) {
		return
	}
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.done)
	t := time.NewTimer(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		if !s.state.CompareAndSwap(int32(StateScheduled), int32(StateRunning)) {
			return
		}
		s.run(s.stop)
		if !s.state.CompareAndSwap(int32(StateRunning), int32(StateScheduled)) {
			return
		}
		t.Reset(s.interval)
	}
}

// Stop cancels any pending firing and waits for a running one to finish.
// It is idempotent.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		prev := State(s.state.Swap(int32(StateStopped)))
		close(s.stop)
		if prev != StateIdle {
			<-s.done
		}
	})
}

// PassReport summarizes one aging pass.
type PassReport struct {
	Generation     uint64        `json:"generation"`
	Objects        int           `json:"objects"`
	Ranges         int           `json:"ranges"`
	Moved          int           `json:"moved"`
	EvictedRanges  int           `json:"evicted_ranges"`
	EvictedObjects int           `json:"evicted_objects"`
	Failed         int           `json:"failed"`
	Aborted        bool          `json:"aborted,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Age runs one aging pass now. Passes are serialized with the scheduler's.
func (r *Root) Age() PassReport {
	return r.pass(nil)
}

func (r *Root) scheduledPass(stop <-chan struct{}) {
	r.pass(stop)
}

func (r *Root) pass(stop <-chan struct{}) PassReport {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var rep PassReport
	if r.stopped.Load() {
		rep.Aborted = true
		return rep
	}
	start := time.Now()
	now := r.now()

	for i := range r.objects.shards {
		r.objects.shards[i].walk(func(obj *Item) {
			defer r.put(obj)
			if rep.Aborted || stopped(stop) {
				rep.Aborted = true
				return
			}
			r.ageObject(obj, now, &rep)
		})
	}
	if rep.Aborted {
		r.log.Debug().Int("objects", rep.Objects).Msg("aging pass aborted")
		return rep
	}
	r.heat.sort()
	if r.doorkeeper != nil {
		r.doorkeeper.reset()
	}

	rep.Generation = r.generation.Add(1)
	rep.Duration = time.Since(start)
	observability.ObserveAgingPass(r.domain, rep.Duration.Seconds())
	observability.SetBucketed(r.domain, r.heat.Len())
	r.log.Debug().
		Uint64("generation", rep.Generation).
		Int("objects", rep.Objects).
		Int("ranges", rep.Ranges).
		Int("moved", rep.Moved).
		Int("evicted_ranges", rep.EvictedRanges).
		Int("evicted_objects", rep.EvictedObjects).
		Int("failed", rep.Failed).
		Dur("took", rep.Duration).
		Msg("aging pass done")
	r.emit(Event{
		Type:       EventPassCompleted,
		Generation: rep.Generation,
		Evicted:    rep.EvictedRanges + rep.EvictedObjects,
	})
	return rep
}

func (r *Root) ageObject(obj *Item, now uint64, rep *PassReport) {
	rep.Objects++
	obsolete, ok := r.score(obj, now, rep)
	if !ok {
		return
	}

	obj.ranges.walk(func(rg *Item) {
		defer r.put(rg)
		rep.Ranges++
		gone, ok := r.score(rg, now, rep)
		if ok && gone && r.dropIndexRef(rg) {
			rep.EvictedRanges++
			observability.IncEviction(r.domain, KindRange.String())
			r.emit(Event{Type: EventRangeEvicted, Kind: KindRange.String(), ObjectID: rg.objectID, RangeIndex: rg.start, Temperature: rg.temp.Load()})
		}
	})

	if r.evictObjects && obsolete && obj.ranges.len() == 0 && r.dropIndexRef(obj) {
		rep.EvictedObjects++
		observability.IncEviction(r.domain, KindObject.String())
		r.emit(Event{Type: EventObjectEvicted, Kind: KindObject.String(), ObjectID: obj.objectID, Temperature: obj.temp.Load()})
	}
}

// score recomputes the temperature of it, rebuckets it and evaluates
// obsolescence, all under the item lock. A panicking policy only costs
// this item.
func (r *Root) score(it *Item, now uint64, rep *PassReport) (obsolete, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			rep.Failed++
			observability.IncAgingItemError(r.domain)
			r.log.Warn().
				Str("kind", it.kind.String()).
				Uint64("object_id", it.objectID).
				Uint32("range_index", it.start).
				Interface("panic", rec).
				Msg("aging skipped item")
			obsolete, ok = false, false
		}
	}()

	it.mu.Lock()
	defer it.mu.Unlock()
	temp := r.policy.Temperature(&it.freq, now)
	if r.heat.moveLocked(it, temp) {
		rep.Moved++
	}
	return r.policy.IsObsolete(&it.freq, now), true
}
