// Package scheduler implements a minimal calendar/interval trigger
// engine.
//
// # Architecture
//
// The source system this was modeled on depended on a third-party
// job-scheduling library. A hosted scheduler is overkill here: what's
// needed is a priority heap keyed by next-fire time, one ticker
// goroutine that wakes for the earliest pending job, and per-job state
// tracking whether a previous invocation is still running. That's what
// this package is.
//
// # Trigger types
//
//   - IntervalTrigger fires every fixed duration from the moment the
//     job was scheduled.
//   - CalendarTrigger fires once per day at a fixed wall-clock
//     (hour, minute) in local time.
//
// # Per-job semantics
//
//   - max_instances = 1: if a job's previous run hasn't returned, the
//     next fire is skipped (coalesced), not queued.
//   - misfire_grace: if the scheduler wakes after a job's intended
//     fire time (a late tick) but no more than grace past it, it fires
//     once anyway; beyond grace, that fire is dropped with a warning
//     log. A zero grace never drops a fire.
//   - Every invocation, success or failure, publishes a JobEvent to
//     the scheduler's Listener, if one is set.
//
// # Concurrency
//
// Start/Stop/AddJob are guarded by a mutex. Each job fire runs in its
// own goroutine; the scheduler's main loop never blocks on a job body.
// Stop() closes a channel and joins all in-flight job goroutines
// before returning.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

// Trigger computes the next fire time strictly after "after".
type Trigger interface {
	NextAfter(after time.Time) time.Time
}

// IntervalTrigger fires every Interval, starting Interval after the
// reference point passed to its first NextAfter call.
type IntervalTrigger struct {
	Interval time.Duration
}

func (t IntervalTrigger) NextAfter(after time.Time) time.Time {
	return after.Add(t.Interval)
}

// CalendarTrigger fires once per day at Hour:Minute local time.
type CalendarTrigger struct {
	Hour   int
	Minute int
}

func (t CalendarTrigger) NextAfter(after time.Time) time.Time {
	loc := after.Location()
	next := time.Date(after.Year(), after.Month(), after.Day(), t.Hour, t.Minute, 0, 0, loc)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Job describes one schedulable unit of work.
type Job struct {
	ID           string
	Trigger      Trigger
	MisfireGrace time.Duration
	Run          func(ctx context.Context) error
}

// job is the scheduler's internal bookkeeping for one Job: its place
// in the heap plus the single-instance running flag.
type job struct {
	Job
	nextFire time.Time
	running  bool
	index    int
}

// jobHeap orders jobs by nextFire; it implements container/heap.Interface.
type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].nextFire.Before(h[j].nextFire) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x interface{}) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Listener receives a JobEvent whenever a job invocation completes,
// whether it succeeded or returned an error. Typically wired to the
// lifecycle manager's event recorder.
type Listener func(models.JobEvent)

// Scheduler runs a fixed set of jobs against their triggers.
type Scheduler struct {
	mu       sync.Mutex
	heap     jobHeap
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	listener Listener
	log      *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{log: log}
}

// SetListener installs the callback invoked on every job completion.
// Must be called before Start.
func (s *Scheduler) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// AddJob registers a job and computes its first fire time relative to
// now. AddJob may be called before Start only.
func (s *Scheduler) AddJob(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &job{Job: j, nextFire: j.Trigger.NextAfter(time.Now())}
	heap.Push(&s.heap, entry)
}

// IsRunning reports whether the scheduler's main loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the main loop in a background goroutine. It is a
// no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
}

// Stop signals the main loop to exit and joins every in-flight job
// goroutine before returning. Job bodies run to completion; Stop does
// not cancel them (there is no cooperative cancellation below the job
// boundary, per the timeout-only interruption model).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Restart stops the scheduler, waits briefly, then starts it again
// with the same job set. Used by the lifecycle manager's auto-recovery
// path.
func (s *Scheduler) Restart() {
	s.Stop()
	time.Sleep(2 * time.Second)
	s.Start()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.heap) == 0 {
			s.mu.Unlock()
			select {
			case <-s.stopCh:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		next := s.heap[0].nextFire
		s.mu.Unlock()

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(wait):
			s.tick()
		}
	}
}

// tick pops every job whose nextFire has arrived, fires each (subject
// to single-instance coalescing and misfire grace), and reschedules it
// against the same trigger.
func (s *Scheduler) tick() {
	now := time.Now()

	s.mu.Lock()
	var due []*job
	for len(s.heap) > 0 && !s.heap[0].nextFire.After(now) {
		j := heap.Pop(&s.heap).(*job)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fireOrSkip(j, now)

		s.mu.Lock()
		j.nextFire = j.Trigger.NextAfter(now)
		heap.Push(&s.heap, j)
		s.mu.Unlock()
	}
}

func (s *Scheduler) fireOrSkip(j *job, now time.Time) {
	s.mu.Lock()
	if j.running {
		s.mu.Unlock()
		s.log.Debugw("job skipped: previous instance still running", "job", j.ID)
		return
	}
	if j.MisfireGrace > 0 && now.Sub(j.nextFire) > j.MisfireGrace {
		s.mu.Unlock()
		s.log.Warnw("job misfire dropped", "job", j.ID, "intended", j.nextFire, "grace", j.MisfireGrace)
		return
	}
	j.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runOnce(j)
}

func (s *Scheduler) runOnce(j *job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	event := models.JobEvent{JobID: j.ID, Timestamp: time.Now()}

	func() {
		defer func() {
			if r := recover(); r != nil {
				event.Err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		event.Err = j.Run(context.Background())
	}()

	event.Success = event.Err == nil
	if event.Success {
		s.log.Infow("job completed", "job", j.ID)
	} else {
		s.log.Errorw("job failed", "job", j.ID, "error", event.Err)
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(event)
	}
}
