package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler is invoked by the scheduler's single goroutine when a timer
// fires. owner is whatever opaque value was passed to Arm (the owning
// *instance.Instance in practice); the handler is responsible for taking
// that instance's own mutex before touching its state, per §5's
// "per-instance mutex is acquired only while the fired handler runs".
type Handler func(owner any, kind Kind)

type timerKey struct {
	owner any
	kind  Kind
}

// event is one armed timer entry in the heap.
type event struct {
	when  time.Time
	owner any
	kind  Kind
	gen   uint64
	seq   uint64
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scheduler is the single event loop shared by every instance a Registry
// owns. One Scheduler per daemon; Arm/Disarm are safe for concurrent use
// from instance handlers, but the fired events themselves are delivered
// serially by Run's one goroutine.
//
// Grounded on liveness/scheduler.go's EventQueue + Scheduler pairing:
// same min-heap-by-time-then-seq ordering, same due-or-sleep Run loop,
// same idempotent re-arm-replaces-marker semantics (here tracked by a
// monotonic generation counter per timer key instead of a zero-time
// sentinel field, since sched has no struct field on the owner to store
// one in).
type Scheduler struct {
	log *slog.Logger

	mu  sync.Mutex
	pq  eventHeap
	gen map[timerKey]uint64
	seq uint64

	timeFactor atomic.Int64 // >=1, multiplies every armed interval

	handler Handler
}

// New constructs a Scheduler that calls handler when a timer fires.
// Time factor defaults to 1 (no scaling).
func New(log *slog.Logger, handler Handler) *Scheduler {
	s := &Scheduler{
		log:     log,
		gen:     make(map[timerKey]uint64),
		handler: handler,
	}
	s.timeFactor.Store(1)
	return s
}

// SetTimeFactor sets the global debugging multiplier applied to every
// interval at Arm time. Values below 1 are clamped to 1.
func (s *Scheduler) SetTimeFactor(f int64) {
	if f < 1 {
		f = 1
	}
	s.timeFactor.Store(f)
}

// Arm (re-)schedules kind for owner to fire after interval (scaled by the
// current time factor). Re-arming an already-armed (owner, kind) replaces
// the previous deadline: the old event is left in the heap but its
// generation is stale, so Run discards it silently when it is popped.
func (s *Scheduler) Arm(owner any, kind Kind, interval time.Duration) {
	scaled := interval * time.Duration(s.timeFactor.Load())
	when := time.Now().Add(scaled)

	key := timerKey{owner, kind}
	s.mu.Lock()
	s.gen[key]++
	g := s.gen[key]
	s.seq++
	heap.Push(&s.pq, &event{when: when, owner: owner, kind: kind, gen: g, seq: s.seq})
	s.mu.Unlock()
}

// Disarm cancels any pending timer of kind for owner. A timer that has
// already fired and is being handled is unaffected.
func (s *Scheduler) Disarm(owner any, kind Kind) {
	key := timerKey{owner, kind}
	s.mu.Lock()
	s.gen[key]++
	s.mu.Unlock()
}

// DisarmAll cancels every pending timer for owner, used when an instance
// is destroyed (§5: "instance destruction stops every timer before
// freeing").
func (s *Scheduler) DisarmAll(owner any) {
	s.mu.Lock()
	for _, k := range Kinds() {
		s.gen[timerKey{owner, k}]++
	}
	s.mu.Unlock()
}

// Kinds lists all eleven timer kinds, in the order spec.md §4.2 names
// them.
func Kinds() []Kind {
	return []Kind{
		ClearFDB, RingTopo, RingTest, RingLinkUp, RingLinkDown,
		InTest, InTopo, InLinkUp, InLinkDown, InLinkStatus, CFMCcm,
	}
}

// Len reports the number of armed (possibly stale) entries still in the
// heap, for metrics/tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pq.Len()
}

func (s *Scheduler) popIfDue(now time.Time) (*event, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pq.Len() == 0 {
		return nil, 10 * time.Millisecond
	}
	next := s.pq[0]
	if d := next.when.Sub(now); d > 0 {
		return nil, d
	}
	return heap.Pop(&s.pq).(*event), 0
}

func (s *Scheduler) currentGen(key timerKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[key]
}

// Run drives the single event loop until ctx is canceled. Stale events
// (superseded by a later Arm, or canceled by Disarm) are dropped without
// invoking the handler.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Debug("sched: event loop started")
	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sched: stopped", "reason", ctx.Err())
			return nil
		default:
		}

		now := time.Now()
		ev, wait := s.popIfDue(now)
		if ev == nil {
			if wait <= 0 {
				wait = 10 * time.Millisecond
			}
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(wait)
			select {
			case <-ctx.Done():
				s.log.Debug("sched: stopped", "reason", ctx.Err())
				return nil
			case <-t.C:
				continue
			}
		}

		key := timerKey{ev.owner, ev.kind}
		if s.currentGen(key) != ev.gen {
			continue // superseded or canceled
		}

		s.handler(ev.owner, ev.kind)
	}
}
