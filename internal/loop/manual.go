package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Runtime driven by the caller: time only moves on Advance and
// background work only runs on Complete. The caller's goroutine acts as the loop.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []manualTimer
	jobs   []func() func()
}

type manualTimer struct {
	due time.Duration
	seq int
	fn  func()
}

// NewManual creates a Manual runtime at virtual time zero
func NewManual() *Manual {
	return &Manual{}
}

// After implements Runtime.
func (m *Manual) After(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.timers = append(m.timers, manualTimer{due: m.now + d, seq: m.seq, fn: fn})
}

// Go implements Runtime. The work is held until Complete.
func (m *Manual) Go(work func() func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, work)
}

// Now returns the virtual time
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// PendingTimers returns the number of timers not yet fired
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// PendingJobs returns the number of background jobs not yet completed
func (m *Manual) PendingJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Advance moves virtual time forward by d, firing due timers in order. Timers scheduled
// by fired callbacks also fire if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		fn, ok := m.popDue(target)
		if !ok {
			break
		}
		fn()
	}

	m.mu.Lock()
	if m.now < target {
		m.now = target
	}
	m.mu.Unlock()
}

// Flush fires timers until none remain, advancing time as needed.
func (m *Manual) Flush() {
	for i := 0; i < 10000; i++ {
		m.mu.Lock()
		if len(m.timers) == 0 {
			m.mu.Unlock()
			return
		}
		m.sortTimers()
		next := m.timers[0].due
		m.mu.Unlock()
		m.Advance(next - m.Now())
	}
	panic("loop: timers keep rescheduling")
}

// Complete runs all pending background jobs and their continuations, in submission
// order. It returns the number of jobs run.
func (m *Manual) Complete() int {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = nil
	m.mu.Unlock()

	for _, work := range jobs {
		if next := work(); next != nil {
			next()
		}
	}
	return len(jobs)
}

func (m *Manual) popDue(target time.Duration) (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return nil, false
	}
	m.sortTimers()
	t := m.timers[0]
	if t.due > target {
		return nil, false
	}
	m.timers = m.timers[1:]
	if t.due > m.now {
		m.now = t.due
	}
	return t.fn, true
}

func (m *Manual) sortTimers() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due != m.timers[j].due {
			return m.timers[i].due < m.timers[j].due
		}
		return m.timers[i].seq < m.timers[j].seq
	})
}
