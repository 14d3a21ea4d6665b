package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestStartIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(clock)

	first, started := m.Start("r1", 300*time.Second)
	if !started {
		t.Fatal("expected first start to create the session")
	}

	// A second participant starting later must observe the original window.
	clock.Advance(10 * time.Second)
	second, started := m.Start("r1", 600*time.Second)
	if started {
		t.Fatal("expected second start to reuse the existing session")
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("expected original start time %v, got %v", first.StartedAt, second.StartedAt)
	}
	if second.Duration != first.Duration {
		t.Fatalf("expected original duration %v, got %v", first.Duration, second.Duration)
	}
	if !second.EndsAt().Equal(first.EndsAt()) {
		t.Fatal("expected the end time to stay fixed across repeated starts")
	}
}

func TestRemainingCountsDownAndClampsAtZero(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(clock)
	m.Start("r1", 300*time.Second)

	remaining, ok := m.Remaining("r1")
	if !ok || remaining != 300*time.Second {
		t.Fatalf("expected 300s remaining at start, got %v (ok=%v)", remaining, ok)
	}

	prev := remaining
	for _, step := range []time.Duration{30 * time.Second, 90 * time.Second, 150 * time.Second} {
		clock.Advance(step)
		remaining, _ = m.Remaining("r1")
		if remaining >= prev {
			t.Fatalf("expected remaining to decrease monotonically, %v -> %v", prev, remaining)
		}
		prev = remaining
	}

	clock.Advance(time.Hour)
	remaining, _ = m.Remaining("r1")
	if remaining != 0 {
		t.Fatalf("expected remaining clamped at zero, got %v", remaining)
	}

	sess, _ := m.Get("r1")
	if !sess.Expired(clock.Now()) {
		t.Fatal("expected session to report expired")
	}
}

func TestRemainingWithoutSession(t *testing.T) {
	m := NewManager(clockwork.NewFakeClock())

	if _, ok := m.Remaining("r1"); ok {
		t.Fatal("expected no session for an unknown room")
	}
	if _, ok := m.Get("r1"); ok {
		t.Fatal("expected Get to miss for an unknown room")
	}
}

func TestRemoveAllowsFreshStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(clock)

	first, _ := m.Start("r1", 60*time.Second)
	m.Remove("r1")

	clock.Advance(5 * time.Second)
	second, started := m.Start("r1", 60*time.Second)
	if !started {
		t.Fatal("expected start after removal to create a new session")
	}
	if second.StartedAt.Equal(first.StartedAt) {
		t.Fatal("expected a fresh start time after removal")
	}
}

func TestRunTickerCountsDownToZeroAndStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(clock)
	m.Start("r1", 3*time.Second)

	ticks := make(chan time.Duration, 8)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		m.RunTicker(ctx, "r1", time.Second, func(remaining time.Duration) {
			ticks <- remaining
		})
		close(done)
	}()

	clock.BlockUntil(1)
	var got []time.Duration
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		select {
		case r := <-ticks:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d, got %v", i, got)
		}
	}

	want := []time.Duration{2 * time.Second, time.Second, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tick %d = %v, want %v (all: %v)", i, got[i], want[i], got)
		}
	}

	// The ticker stops itself once the countdown reaches zero.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected ticker goroutine to stop at expiry")
	}
}

func TestRunTickerStopsWhenSessionRemoved(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(clock)
	m.Start("r1", time.Hour)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		m.RunTicker(ctx, "r1", time.Second, func(time.Duration) {})
		close(done)
	}()

	clock.BlockUntil(1)
	m.Remove("r1")
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected ticker to stop after session removal")
	}
}
