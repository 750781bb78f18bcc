package core

import (
	"testing"
	"time"
)

func TestTimerBefore(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{0xFFFFFFF0, 0x10, true},
		{0x10, 0xFFFFFFF0, false},
	}
	for _, tt := range tests {
		if got := TimerBefore(tt.a, tt.b); got != tt.want {
			t.Errorf("TimerBefore(%#x, %#x) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSchedulerOrder(t *testing.T) {
	clock := &ManualClock{}
	s := NewScheduler(clock)

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	s.Add(mk(3, 300))
	s.Add(mk(1, 100))
	s.Add(mk(2, 200))
	s.Add(mk(4, 200))

	if n := s.Dispatch(); n != 0 {
		t.Fatalf("Dispatch ran %d timers before they were due", n)
	}
	clock.Advance(250 * time.Microsecond)
	if n := s.Dispatch(); n != 3 {
		t.Errorf("Dispatch ran %d timers, want 3", n)
	}
	clock.Advance(time.Millisecond)
	s.Dispatch()

	want := []int{1, 2, 4, 3}
	if len(order) != len(want) {
		t.Fatalf("Order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Order = %v, want %v", order, want)
			break
		}
	}
	if s.Pending() != 0 {
		t.Errorf("%d timers still pending", s.Pending())
	}
}

func TestSchedulerWrap(t *testing.T) {
	clock := &ManualClock{}
	clock.Set(0xFFFFFF00)
	s := NewScheduler(clock)

	var order []int
	for i, wake := range []uint32{0x20, 0xFFFFFF80} {
		id := i
		s.Add(&Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}})
	}
	clock.Advance(time.Millisecond)
	s.Dispatch()
	if len(order) != 2 || order[0] != 1 || order[1] != 0 {
		t.Errorf("Order across wrap = %v, want [1 0]", order)
	}
}

func TestSchedulerRescheduleAndRemove(t *testing.T) {
	clock := &ManualClock{}
	s := NewScheduler(clock)

	runs := 0
	tm := &Timer{WakeTime: 10, Handler: func(tm *Timer) uint8 {
		runs++
		tm.WakeTime += 10
		return SF_RESCHEDULE
	}}
	s.Add(tm)
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Microsecond)
		s.Dispatch()
	}
	if runs != 3 {
		t.Errorf("Periodic timer ran %d times, want 3", runs)
	}
	if !s.Remove(tm) {
		t.Error("Remove did not find the rescheduled timer")
	}
	if s.Remove(tm) {
		t.Error("Remove found a timer twice")
	}
	clock.Advance(time.Millisecond)
	s.Dispatch()
	if runs != 3 {
		t.Error("Removed timer still ran")
	}
}
