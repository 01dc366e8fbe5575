package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
	mu       *sync.Mutex
}

func (f *fakeWorker) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, s)
}

func (f *fakeWorker) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.record("start " + f.name)
	return nil
}

func (f *fakeWorker) Stop() error {
	f.record("stop " + f.name)
	return f.stopErr
}

func (f *fakeWorker) Name() string { return f.name }

func newFakes(names ...string) ([]*fakeWorker, *[]string) {
	var log []string
	mu := &sync.Mutex{}
	workers := make([]*fakeWorker, len(names))
	for i, n := range names {
		workers[i] = &fakeWorker{name: n, log: &log, mu: mu}
	}
	return workers, &log
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(zap.NewNop())
	fakes, log := newFakes("a", "b")
	for _, f := range fakes {
		m.Register(f)
	}
	assert.Equal(t, 2, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.StopAll(), "stopping twice is a no-op")

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, *log)
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	m := NewManager(zap.NewNop())
	fakes, log := newFakes("a", "b", "c")
	fakes[1].startErr = errors.New("boom")
	for _, f := range fakes {
		m.Register(f)
	}

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "stop a"}, *log)
}

func TestManager_StopCollectsErrors(t *testing.T) {
	m := NewManager(zap.NewNop())
	fakes, _ := newFakes("a", "b")
	fakes[0].stopErr = errors.New("a failed")
	fakes[1].stopErr = errors.New("b failed")
	for _, f := range fakes {
		m.Register(f)
	}

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")
}

type countingReminders struct {
	calls atomic.Int32
	err   error
}

func (c *countingReminders) RemindStalled(ctx context.Context, now time.Time) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestReminderWorker_RunsUntilStopped(t *testing.T) {
	reminders := &countingReminders{}
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := NewReminderWorker(reminders, 5*time.Millisecond, zap.NewNop(), WithClock(func() time.Time { return fixed }))
	assert.Equal(t, "ReminderWorker", w.Name())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return reminders.calls.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, w.Stop())
	calls := reminders.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, reminders.calls.Load(), "no runs after Stop returns")
	assert.NoError(t, w.Stop())
}

func TestReminderWorker_KeepsRunningAfterErrors(t *testing.T) {
	reminders := &countingReminders{err: errors.New("storage down")}
	w := NewReminderWorker(reminders, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	assert.Eventually(t, func() bool { return reminders.calls.Load() >= 2 }, time.Second, time.Millisecond)
}
