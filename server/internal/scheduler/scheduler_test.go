package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

func TestIntervalTriggerAddsDuration(t *testing.T) {
	tr := IntervalTrigger{Interval: 5 * time.Minute}
	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(5*time.Minute), tr.NextAfter(base))
}

func TestCalendarTriggerSameDayWhenStillAhead(t *testing.T) {
	tr := CalendarTrigger{Hour: 16, Minute: 0}
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	got := tr.NextAfter(base)
	assert.Equal(t, time.Date(2026, 7, 30, 16, 0, 0, 0, time.UTC), got)
}

func TestCalendarTriggerRollsToNextDayWhenPast(t *testing.T) {
	tr := CalendarTrigger{Hour: 8, Minute: 0}
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	got := tr.NextAfter(base)
	assert.Equal(t, time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC), got)
}

func TestSchedulerFiresJobAndReportsToListener(t *testing.T) {
	s := New(zap.NewNop().Sugar())

	var ran int32
	var mu sync.Mutex
	var events []models.JobEvent
	s.SetListener(func(ev models.JobEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	s.AddJob(Job{
		ID:      "fast",
		Trigger: IntervalTrigger{Interval: 10 * time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.True(t, events[0].Success)
	assert.Equal(t, "fast", events[0].JobID)
}

func TestSchedulerCoalescesOverlappingRuns(t *testing.T) {
	s := New(zap.NewNop().Sugar())

	var concurrent int32
	var maxConcurrent int32
	release := make(chan struct{})

	s.AddJob(Job{
		ID:      "slow",
		Trigger: IntervalTrigger{Interval: 5 * time.Millisecond},
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&concurrent, -1)
			return nil
		},
	})

	s.Start()
	time.Sleep(80 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	s := New(zap.NewNop().Sugar())
	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestSchedulerStopWithoutStartIsNoop(t *testing.T) {
	s := New(zap.NewNop().Sugar())
	assert.NotPanics(t, func() { s.Stop() })
}
