package scheduler

import (
	"testing"
	"time"

	"github.com/louisbranch/yesand/internal/platform/clock"
)

var start = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestScheduleFiresAfterDelay(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := New(c, nil)
	var fired []uint64
	token := s.Schedule("director", 45*time.Second, func(tok uint64) {
		fired = append(fired, tok)
	})

	c.Advance(44 * time.Second)
	if len(fired) != 0 {
		t.Fatal("fired early")
	}
	c.Advance(time.Second)
	if len(fired) != 1 || fired[0] != token {
		t.Fatalf("fired = %v, want [%d]", fired, token)
	}
	if !s.Current("director", token) {
		t.Fatal("fired token should remain current until superseded")
	}
	if s.Pending("director") {
		t.Fatal("fired task should not be pending")
	}
}

func TestRescheduleReplacesPending(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := New(c, nil)
	calls := 0
	first := s.Schedule("director", 10*time.Second, func(uint64) { calls++ })
	c.Advance(5 * time.Second)
	second := s.Schedule("director", 10*time.Second, func(uint64) { calls++ })

	c.Advance(5 * time.Second)
	if calls != 0 {
		t.Fatal("replaced task fired")
	}
	if s.Current("director", first) {
		t.Fatal("first token should be stale")
	}
	c.Advance(5 * time.Second)
	if calls != 1 || !s.Current("director", second) {
		t.Fatalf("calls = %d", calls)
	}
}

func TestCancelInvalidatesToken(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := New(c, nil)
	calls := 0
	token := s.Schedule("follow_up", time.Second, func(uint64) { calls++ })
	if !s.Cancel("follow_up") {
		t.Fatal("expected pending task cancelled")
	}
	c.Advance(time.Minute)
	if calls != 0 {
		t.Fatal("cancelled task fired")
	}
	if s.Current("follow_up", token) {
		t.Fatal("cancelled token should not be current")
	}
	if s.Cancel("follow_up") {
		t.Fatal("second cancel should report nothing pending")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := New(c, nil)
	var order []string
	s.Schedule("sound", 1500*time.Millisecond, func(uint64) { order = append(order, "sound") })
	s.Schedule("wave", 2500*time.Millisecond, func(uint64) { order = append(order, "wave") })
	c.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != "sound" || order[1] != "wave" {
		t.Fatalf("order = %v", order)
	}
}

func TestDeliverReceivesCallbacks(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	var queued []func()
	s := New(c, func(f func()) { queued = append(queued, f) })
	calls := 0
	s.Schedule("canvas", 4*time.Second, func(uint64) { calls++ })
	c.Advance(4 * time.Second)
	if calls != 0 || len(queued) != 1 {
		t.Fatalf("calls = %d queued = %d", calls, len(queued))
	}
	queued[0]()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := New(c, nil)
	calls := 0
	s.Schedule("a", time.Second, func(uint64) { calls++ })
	s.Schedule("b", time.Second, func(uint64) { calls++ })
	s.Stop()
	if token := s.Schedule("c", time.Second, func(uint64) { calls++ }); token != 0 {
		t.Fatalf("token = %d after stop, want 0", token)
	}
	c.Advance(time.Minute)
	if calls != 0 {
		t.Fatalf("calls = %d after stop", calls)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending timers = %d", c.Pending())
	}
}
