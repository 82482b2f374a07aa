// Package lifecycle implements the Lifecycle Manager: the supervisor
// that sits above the Scheduler and is responsible for everything the
// scheduler itself doesn't know about — persisting its own state
// across restarts, reacting to OS signals, tracking a bounded history
// of job outcomes, and deciding when the scheduler is unhealthy enough
// to restart itself.
//
// None of this is scheduling logic; it's supervision. The Scheduler
// fires jobs and reports JobEvents. The Manager turns that stream into
// durable state, health classification, and (within a bounded budget)
// automatic recovery.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/models"
	"github.com/weichuangxin420/newsflow/server/internal/scheduler"
)

// maxRestartsPerHour bounds auto-recovery: beyond this many
// scheduler_restarted events in the trailing hour, the manager stops
// attempting recovery and records auto_recovery_disabled instead.
const maxRestartsPerHour = 3

// Manager supervises a *scheduler.Scheduler: it persists
// models.SchedulerState to stateFile, handles SIGINT/SIGTERM, and runs
// a periodic health-classification loop with bounded auto-recovery.
type Manager struct {
	mu        sync.Mutex
	state     models.SchedulerState
	stateFile string
	interval  time.Duration
	sched     *scheduler.Scheduler
	log       *zap.SugaredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
	done   chan struct{}
}

// New constructs a Manager. It does not read state from disk; call
// Restore for that, before Start.
func New(sched *scheduler.Scheduler, stateFile string, monitorInterval time.Duration, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		sched:     sched,
		stateFile: stateFile,
		interval:  monitorInterval,
		log:       log,
		state: models.SchedulerState{
			HealthStatus: models.HealthStatus{Overall: models.HealthHealthy, Components: map[string]bool{}},
		},
		done: make(chan struct{}),
	}
	sched.SetListener(m.recordJobEvent)
	return m
}

// Done returns a channel that closes once Shutdown has fully stopped
// the scheduler and persisted final state. Callers that need the
// process to exit after a signal-triggered shutdown should block on
// it instead of running their own select{}.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Restore reads the previous SchedulerState from disk, if present, and
// carries forward ErrorCount, ExecutionHistory, HealthStatus and Stats.
// A missing file is not an error; a corrupt main file falls back to
// its backup; if both are unreadable, Restore starts from zero state.
func (m *Manager) Restore() {
	state, err := readState(m.stateFile)
	if err != nil {
		m.log.Infow("no prior scheduler state recovered", "reason", err)
		return
	}
	m.mu.Lock()
	m.state.ErrorCount = state.ErrorCount
	m.state.ExecutionHistory = state.ExecutionHistory
	m.state.HealthStatus = state.HealthStatus
	m.state.Stats = state.Stats
	m.mu.Unlock()
	m.log.Infow("restored scheduler state", "executions", state.Stats.TotalExecutions, "failure_rate", state.HealthStatus.FailureRate)
}

// Start marks the scheduler running, starts it, installs signal
// handling, and launches the health-monitoring loop.
func (m *Manager) Start() {
	m.mu.Lock()
	m.state.IsRunning = true
	m.state.StartTime = time.Now()
	m.state.ProcessID = os.Getpid()
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	m.sched.Start()
	m.persist()

	m.wg.Add(2)
	go m.handleSignals(stop)
	go m.monitorLoop(stop)
}

// Shutdown stops the health loop and signal handler, stops the
// scheduler with a join-wait, and persists final state. Safe to call
// more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopCh == nil {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.stopCh = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.sched.Stop()

	m.mu.Lock()
	m.state.IsRunning = false
	m.mu.Unlock()
	m.persist()

	close(m.done)
}

// State returns a copy of the current durable state, safe for the
// caller to read without locking.
func (m *Manager) State() models.SchedulerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) handleSignals(stop <-chan struct{}) {
	defer m.wg.Done()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.log.Infow("signal received, shutting down", "signal", sig)
		m.mu.Lock()
		m.state.IsRunning = false
		m.appendEvent(models.ExecutionEvent{
			Timestamp: time.Now(), Type: models.EventSignalReceived, Success: true,
			Message: fmt.Sprintf("received %s", sig),
		})
		m.mu.Unlock()
		m.persist()
		go m.Shutdown()
	case <-stop:
	}
}

func (m *Manager) monitorLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkHealth()
			m.persist()
		}
	}
}

// checkHealth classifies overall health from the failure rate and, if
// critical and under the hourly restart budget, triggers Restart.
func (m *Manager) checkHealth() {
	m.mu.Lock()
	stats := m.state.Stats
	var failureRate float64
	if stats.TotalExecutions > 0 {
		failureRate = float64(stats.FailedExecutions) / float64(stats.TotalExecutions)
	}

	overall := classify(failureRate, stats.TotalExecutions > 0)
	m.state.HealthStatus = models.HealthStatus{
		Overall:     overall,
		Components:  map[string]bool{"scheduler": m.sched.IsRunning()},
		LastCheck:   time.Now(),
		FailureRate: failureRate,
	}
	m.appendEvent(models.ExecutionEvent{
		Timestamp: time.Now(), Type: models.EventHealthObservation, Success: overall != models.HealthCritical,
		Message: fmt.Sprintf("overall=%s failure_rate=%.3f", overall, failureRate),
	})
	needsRecovery := overall == models.HealthCritical && m.recentRestarts() < maxRestartsPerHour
	disableRecovery := overall == models.HealthCritical && !needsRecovery
	m.mu.Unlock()

	if needsRecovery {
		m.log.Warnw("scheduler unhealthy, attempting auto-recovery restart", "failure_rate", failureRate)
		m.sched.Restart()
		m.mu.Lock()
		m.appendEvent(models.ExecutionEvent{
			Timestamp: time.Now(), Type: models.EventSchedulerRestarted, Success: true,
			Message: "auto-recovery restart",
		})
		m.mu.Unlock()
	} else if disableRecovery {
		m.mu.Lock()
		m.appendEvent(models.ExecutionEvent{
			Timestamp: time.Now(), Type: models.EventAutoRecoveryOff, Success: false,
			Message: "restart budget exhausted for this hour",
		})
		m.mu.Unlock()
	}
}

func classify(failureRate float64, hasHistory bool) string {
	switch {
	case failureRate > 0.5:
		return models.HealthCritical
	case failureRate > 0.2:
		return models.HealthWarning
	case hasHistory:
		return models.HealthHealthy
	default:
		return models.HealthDegraded
	}
}

// recentRestarts counts scheduler_restarted events in the trailing
// hour. Caller must hold m.mu.
func (m *Manager) recentRestarts() int {
	cutoff := time.Now().Add(-time.Hour)
	count := 0
	for _, e := range m.state.ExecutionHistory {
		if e.Type == models.EventSchedulerRestarted && e.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// recordJobEvent is the scheduler's Listener: it updates counters,
// appends to execution_history, and persists state.
func (m *Manager) recordJobEvent(ev models.JobEvent) {
	m.mu.Lock()
	m.state.Stats.TotalExecutions++
	eventType := models.EventJobSucceeded
	message := ev.JobID
	if ev.Success {
		m.state.Stats.SuccessfulExecutions++
	} else {
		m.state.Stats.FailedExecutions++
		m.state.ErrorCount++
		now := ev.Timestamp
		m.state.LastErrorTime = &now
		eventType = models.EventJobFailed
		if ev.Err != nil {
			message = fmt.Sprintf("%s: %v", ev.JobID, ev.Err)
		}
	}
	m.appendEvent(models.ExecutionEvent{Timestamp: ev.Timestamp, Type: eventType, Success: ev.Success, Message: message})
	m.mu.Unlock()

	m.persist()
}

// appendEvent appends to execution_history and trims to the cap.
// Caller must hold m.mu.
func (m *Manager) appendEvent(e models.ExecutionEvent) {
	m.state.ExecutionHistory = append(m.state.ExecutionHistory, e)
	if len(m.state.ExecutionHistory) > models.MaxExecutionHistory {
		m.state.ExecutionHistory = m.state.ExecutionHistory[len(m.state.ExecutionHistory)-models.MaxExecutionHistory:]
	}
}

// persist writes the current state atomically: marshal, write to a
// temp file in the same directory, rename the existing main file to
// .backup, then rename the temp file into place. A read that races a
// crash mid-write always finds either the prior generation (backup)
// or a complete new file, never a truncated one.
func (m *Manager) persist() {
	m.mu.Lock()
	m.state.SavedAt = time.Now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	m.mu.Unlock()
	if err != nil {
		m.log.Errorw("marshaling scheduler state failed", "error", err)
		return
	}

	if err := writeStateAtomic(m.stateFile, data); err != nil {
		m.log.Errorw("persisting scheduler state failed", "error", err)
	}
}

func writeStateAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}

	backup := path + ".backup"
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(backup)
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("backing up previous state: %w", err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp state file into place: %w", err)
	}
	return nil
}

// readState reads and parses the state file, falling back to its
// .backup generation if the main file is missing or fails to parse.
func readState(path string) (*models.SchedulerState, error) {
	state, err := readStateFile(path)
	if err == nil {
		return state, nil
	}

	backupState, backupErr := readStateFile(path + ".backup")
	if backupErr == nil {
		return backupState, nil
	}
	return nil, fmt.Errorf("main state unreadable (%w), backup unreadable (%v)", err, backupErr)
}

func readStateFile(path string) (*models.SchedulerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state models.SchedulerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
