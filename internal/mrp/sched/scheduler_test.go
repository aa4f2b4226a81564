package sched

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSchedulerFiresArmedTimer(t *testing.T) {
	var mu sync.Mutex
	fired := make([]Kind, 0)

	s := New(discardLogger(), func(owner any, kind Kind) {
		mu.Lock()
		fired = append(fired, kind)
		mu.Unlock()
	})

	owner := new(int)
	s.Arm(owner, RingTest, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1 && fired[0] == RingTest
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestReArmSupersedesPreviousDeadline(t *testing.T) {
	var mu sync.Mutex
	var count int

	s := New(discardLogger(), func(owner any, kind Kind) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	owner := new(int)
	s.Arm(owner, ClearFDB, 5*time.Millisecond)
	s.Arm(owner, ClearFDB, 50*time.Millisecond) // supersedes the first arm

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count, "only the superseding arm should have fired")
}

func TestDisarmCancelsPendingTimer(t *testing.T) {
	var mu sync.Mutex
	var count int

	s := New(discardLogger(), func(owner any, kind Kind) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	owner := new(int)
	s.Arm(owner, RingLinkUp, 20*time.Millisecond)
	s.Disarm(owner, RingLinkUp)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, count)
}

func TestDisarmAllCancelsEveryKindForOwner(t *testing.T) {
	s := New(discardLogger(), func(owner any, kind Kind) {})
	owner := new(int)
	for _, k := range Kinds() {
		s.Arm(owner, k, time.Millisecond)
	}
	s.DisarmAll(owner)
	// Every kind was armed once then disarmed once: each generation counter
	// should be exactly 2.
	require.Equal(t, uint64(len(Kinds())*2), sumGen(s))
}

func sumGen(s *Scheduler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, g := range s.gen {
		total += g
	}
	return total
}

func TestRingDefaultsTable(t *testing.T) {
	d := RingDefaultsFor(RingClass500)
	require.Equal(t, 20*time.Millisecond, d.TopoInterval)
	require.Equal(t, 50*time.Millisecond, d.TestInterval)
	require.Equal(t, 30*time.Millisecond, d.TestShortInterval)
	require.Equal(t, 5, d.TestMaxMiss)
	require.Equal(t, 100*time.Millisecond, d.LinkInterval)
	require.Equal(t, 4, d.LinkMaxCount)

	d10 := RingDefaultsFor(RingClass10)
	require.Equal(t, 500*time.Microsecond, d10.TopoInterval)
	require.Equal(t, time.Millisecond, d10.TestInterval)
}

func TestInDefaultsTable(t *testing.T) {
	d := InDefaultsFor(InClass500)
	require.Equal(t, 50*time.Millisecond, d.TestInterval)
	require.Equal(t, 8, d.TestMaxMiss)
}
