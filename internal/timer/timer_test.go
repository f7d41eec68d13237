package timer

import (
	"sync"
	"testing"
	"time"
)

func TestCreateFiresInOrder(t *testing.T) {
	m := New()
	m.Start()

	var mu sync.Mutex
	var order []int

	m.Create(30, func(arg any) {
		mu.Lock()
		order = append(order, arg.(int))
		mu.Unlock()
	}, 2)
	m.Create(10, func(arg any) {
		mu.Lock()
		order = append(order, arg.(int))
		mu.Unlock()
	}, 1)

	m.Tick(time.Now().Add(time.Hour))

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected fire order: %v", order)
	}
}

func TestCancelIsAlwaysSafe(t *testing.T) {
	m := New()
	m.Start()

	fired := false
	h := m.Create(10, func(any) { fired = true }, nil)
	m.Cancel(h)
	m.Tick(time.Now().Add(time.Hour))
	if fired {
		t.Fatal("canceled timer fired")
	}

	// Canceling again, and canceling after it would have fired, is a no-op.
	m.Cancel(h)
	m.Cancel(Handle(999999))
}

func TestCancelAfterFireIsNoOp(t *testing.T) {
	m := New()
	m.Start()

	h := m.Create(10, func(any) {}, nil)
	m.Tick(time.Now().Add(time.Hour))
	m.Cancel(h) // already fired/popped; must not panic or affect anything else
}

func TestCallbackCanScheduleNewTimerForSameArg(t *testing.T) {
	m := New()
	m.Start()

	calls := 0
	var reschedule func(any)
	reschedule = func(arg any) {
		calls++
		if calls < 3 {
			m.Create(5, reschedule, arg)
		}
	}
	m.Create(5, reschedule, "dev")

	for i := 0; i < 5 && calls < 3; i++ {
		m.Tick(time.Now().Add(time.Hour))
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestStopCancelsOutstandingTimers(t *testing.T) {
	m := New()
	m.Start()
	fired := false
	m.Create(10, func(any) { fired = true }, nil)
	m.Stop()
	m.Tick(time.Now().Add(time.Hour))
	if fired {
		t.Fatal("timer fired after Stop")
	}
}

func TestDoubleStartAndStopWithoutStart(t *testing.T) {
	m := New()
	m.Start()
	m.Start() // must not panic or corrupt state

	m2 := New()
	m2.Stop() // stop without start must be safe
}

func TestNextDeadlineSkipsCanceled(t *testing.T) {
	m := New()
	m.Start()
	h1 := m.Create(10, func(any) {}, nil)
	m.Create(1000, func(any) {}, nil)
	m.Cancel(h1)

	_, ok := m.NextDeadline()
	if !ok {
		t.Fatal("expected a remaining deadline")
	}
}
