package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/models"
	"github.com/weichuangxin420/newsflow/server/internal/scheduler"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, models.HealthCritical, classify(0.6, true))
	assert.Equal(t, models.HealthWarning, classify(0.3, true))
	assert.Equal(t, models.HealthHealthy, classify(0.1, true))
	assert.Equal(t, models.HealthDegraded, classify(0.0, false))
}

func TestClassifyBoundariesAreExclusive(t *testing.T) {
	assert.Equal(t, models.HealthWarning, classify(0.5, true))
	assert.Equal(t, models.HealthHealthy, classify(0.2, true))
}

func TestWriteStateAtomicAndReadStateRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	state := models.SchedulerState{IsRunning: true, ProcessID: 42}
	data, err := json.Marshal(state)
	require.NoError(t, err)

	require.NoError(t, writeStateAtomic(path, data))

	got, err := readState(path)
	require.NoError(t, err)
	assert.True(t, got.IsRunning)
	assert.Equal(t, 42, got.ProcessID)
}

func TestWriteStateAtomicCreatesBackupOnSecondWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	first, err := json.Marshal(models.SchedulerState{ProcessID: 1})
	require.NoError(t, err)
	require.NoError(t, writeStateAtomic(path, first))

	second, err := json.Marshal(models.SchedulerState{ProcessID: 2})
	require.NoError(t, err)
	require.NoError(t, writeStateAtomic(path, second))

	backupData, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	backup, err := readStateFile(path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, 1, backup.ProcessID)
	assert.NotEmpty(t, backupData)

	current, err := readStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, current.ProcessID)
}

func TestReadStateFallsBackToBackupWhenMainCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	good, err := json.Marshal(models.SchedulerState{ProcessID: 7})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".backup", good, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	got, err := readState(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ProcessID)
}

func TestReadStateErrorsWhenBothFilesUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	_, err := readState(path)
	assert.Error(t, err)
}

func TestAppendEventTrimsToMaxHistory(t *testing.T) {
	m := &Manager{}
	for i := 0; i < models.MaxExecutionHistory+10; i++ {
		m.appendEvent(models.ExecutionEvent{Timestamp: time.Now(), Type: models.EventJobSucceeded})
	}
	assert.Len(t, m.state.ExecutionHistory, models.MaxExecutionHistory)
}

func TestShutdownClosesDoneChannel(t *testing.T) {
	dir := t.TempDir()
	sched := scheduler.New(zap.NewNop().Sugar())
	mgr := New(sched, filepath.Join(dir, "state.json"), time.Hour, zap.NewNop().Sugar())

	mgr.Start()
	mgr.Shutdown()

	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel did not close after Shutdown")
	}
}

func TestShutdownIsIdempotentAndDoneStaysClosed(t *testing.T) {
	dir := t.TempDir()
	sched := scheduler.New(zap.NewNop().Sugar())
	mgr := New(sched, filepath.Join(dir, "state.json"), time.Hour, zap.NewNop().Sugar())

	mgr.Start()
	mgr.Shutdown()
	assert.NotPanics(t, func() { mgr.Shutdown() })

	select {
	case <-mgr.Done():
	default:
		t.Fatal("Done channel should remain closed after a second Shutdown call")
	}
}

func TestRecentRestartsCountsOnlyTrailingHour(t *testing.T) {
	m := &Manager{}
	now := time.Now()
	m.state.ExecutionHistory = []models.ExecutionEvent{
		{Type: models.EventSchedulerRestarted, Timestamp: now.Add(-2 * time.Hour)},
		{Type: models.EventSchedulerRestarted, Timestamp: now.Add(-10 * time.Minute)},
		{Type: models.EventSchedulerRestarted, Timestamp: now.Add(-5 * time.Minute)},
		{Type: models.EventJobFailed, Timestamp: now.Add(-1 * time.Minute)},
	}
	assert.Equal(t, 2, m.recentRestarts())
}
