package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	states  map[string]State
	history map[string][]Status
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: map[string]State{}, history: map[string][]Status{}}
}

func (m *memoryStore) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ID] = state
	m.history[state.ID] = append(m.history[state.ID], state.Status)
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &state, nil
}

func (m *memoryStore) statuses(id string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Status(nil), m.history[id]...)
}

func waitForStatus(t *testing.T, store *memoryStore, id string, want Status) *State {
	t.Helper()
	var state *State
	require.Eventually(t, func() bool {
		s, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		state = s
		return s.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return state
}

func TestQueueRetriesThenExhausts(t *testing.T) {
	var calls int32
	exhausted := make(chan Job, 1)
	q := NewQueue("test", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnExhausted: func(j Job, _ error) { exhausted <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Name: "noop"}))

	select {
	case job := <-exhausted:
		require.Equal(t, "job-1", job.ID)
		require.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not exhausted")
	}
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestDispatcherRecordsLifecycle(t *testing.T) {
	store := newMemoryStore()
	d := NewDispatcher(store, QueueConfig{Workers: 1})
	d.Register("report", func(ctx context.Context, task *Task) (*Outcome, error) {
		_ = task.UpdateState(ctx, StatusProgress, map[string]interface{}{"step": 1})
		return Completed(map[string]interface{}{"payload": task.Payload}), nil
	})
	d.Start(context.Background())
	defer d.Stop()

	id, err := d.Dispatch(context.Background(), "report", "payload")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	state := waitForStatus(t, store, id, StatusCompleted)
	require.Equal(t, map[string]interface{}{"payload": "payload"}, state.Result)
	require.Equal(t, []Status{StatusPending, StatusStarted, StatusProgress, StatusCompleted}, store.statuses(id))
}

func TestDispatcherFailedOutcome(t *testing.T) {
	store := newMemoryStore()
	d := NewDispatcher(store, QueueConfig{Workers: 1})
	d.Register("broken", func(context.Context, *Task) (*Outcome, error) {
		return Failed("order builder not configured", nil), nil
	})
	d.Start(context.Background())
	defer d.Stop()

	id, err := d.Dispatch(context.Background(), "broken", nil)
	require.NoError(t, err)

	state := waitForStatus(t, store, id, StatusFailed)
	require.Equal(t, "order builder not configured", state.Reason)
}

func TestDispatcherExhaustedRetriesFail(t *testing.T) {
	store := newMemoryStore()
	d := NewDispatcher(store, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	d.Register("flaky", func(context.Context, *Task) (*Outcome, error) {
		return nil, errors.New("backend down")
	})
	d.Start(context.Background())
	defer d.Stop()

	id, err := d.Dispatch(context.Background(), "flaky", nil)
	require.NoError(t, err)

	state := waitForStatus(t, store, id, StatusFailed)
	require.Equal(t, "backend down", state.Reason)
}

func TestDispatcherUnknownTask(t *testing.T) {
	d := NewDispatcher(newMemoryStore(), QueueConfig{})
	d.Start(context.Background())
	defer d.Stop()

	_, err := d.Dispatch(context.Background(), "missing", nil)
	require.Error(t, err)
}
