package core

// Timer is a scheduled callback. The handler returns SF_RESCHEDULE after
// moving WakeTime forward to run again.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler keeps timers sorted by wake time and runs them from the
// firmware loop
type Scheduler struct {
	clock Clock
	list  *Timer
}

func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Now returns the scheduler's clock reading
func (s *Scheduler) Now() uint32 {
	return s.clock.Now()
}

// Add schedules t. A timer must not be added twice.
func (s *Scheduler) Add(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	s.insert(t)
}

func (s *Scheduler) insert(t *Timer) {
	if s.list == nil || TimerBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}
	cur := s.list
	for cur.Next != nil && !TimerBefore(t.WakeTime, cur.Next.WakeTime) {
		cur = cur.Next
	}
	t.Next = cur.Next
	cur.Next = t
}

// Remove unschedules t and reports whether it was pending
func (s *Scheduler) Remove(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for p := &s.list; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return true
		}
	}
	return false
}

// Pending returns the number of scheduled timers
func (s *Scheduler) Pending() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	n := 0
	for t := s.list; t != nil; t = t.Next {
		n++
	}
	return n
}

// Dispatch runs every timer due at the current time and returns how many
// handlers ran
func (s *Scheduler) Dispatch() int {
	now := s.clock.Now()
	n := 0
	for {
		state := disableInterrupts()
		t := s.list
		if t == nil || TimerBefore(now, t.WakeTime) {
			restoreInterrupts(state)
			return n
		}
		s.list = t.Next
		t.Next = nil
		restoreInterrupts(state)

		n++
		if t.Handler(t) == SF_RESCHEDULE {
			s.Add(t)
		}
	}
}
