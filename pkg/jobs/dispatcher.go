package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the terminal result a task body returns.
type Outcome struct {
	Status Status
	Result interface{}
	Reason string
}

// Completed builds a successful outcome.
func Completed(result interface{}) *Outcome {
	return &Outcome{Status: StatusCompleted, Result: result}
}

// Failed builds a failed outcome with a reason.
func Failed(reason string, result interface{}) *Outcome {
	return &Outcome{Status: StatusFailed, Reason: reason, Result: result}
}

// TaskFunc runs one task invocation. A returned error asks the queue to retry.
type TaskFunc func(ctx context.Context, task *Task) (*Outcome, error)

// Task is the handle a running task body uses to read its payload and report progress.
type Task struct {
	ID      string
	Name    string
	Payload interface{}
	Attempt int

	store  StateStore
	logger *zap.Logger
}

// NewTask builds a task handle reporting to store.
func NewTask(id, name string, payload interface{}, store StateStore, logger *zap.Logger) *Task {
	return &Task{ID: id, Name: name, Payload: payload, store: store, logger: logger}
}

// UpdateState records an intermediate state such as PROGRESS.
func (t *Task) UpdateState(ctx context.Context, status Status, meta map[string]interface{}) error {
	if t.store == nil {
		return nil
	}
	err := t.store.Save(ctx, State{
		ID:        t.ID,
		Name:      t.Name,
		Status:    status,
		Meta:      meta,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil && t.logger != nil {
		t.logger.Warn("failed to record task state", zap.String("task_id", t.ID), zap.String("status", string(status)), zap.Error(err))
	}
	return err
}

// Dispatcher is a named task registry on top of Queue.
type Dispatcher struct {
	queue  *Queue
	store  StateStore
	logger *zap.Logger

	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// NewDispatcher wires a queue whose jobs are routed to registered tasks.
func NewDispatcher(store StateStore, cfg QueueConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:  store,
		logger: cfg.Logger,
		tasks:  make(map[string]TaskFunc),
	}
	cfg.OnExhausted = d.exhausted
	d.queue = NewQueue("tasks", d.handle, cfg)
	return d
}

// Register binds a task body to a name.
func (d *Dispatcher) Register(name string, fn TaskFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[name] = fn
}

// Start begins processing.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for running tasks to exit.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch records a PENDING state and enqueues the task, returning its id.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload interface{}) (string, error) {
	d.mu.RLock()
	_, ok := d.tasks[name]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("task %q not registered", name)
	}

	id := uuid.NewString()
	if err := d.save(ctx, State{ID: id, Name: name, Status: StatusPending}); err != nil {
		return "", fmt.Errorf("record pending state: %w", err)
	}
	if err := d.queue.Enqueue(Job{ID: id, Name: name, Payload: payload}); err != nil {
		_ = d.save(ctx, State{ID: id, Name: name, Status: StatusFailed, Reason: err.Error()})
		return "", err
	}

	d.logger.Info("task dispatched", zap.String("task_id", id), zap.String("task", name))
	return id, nil
}

// State returns the stored state of a task.
func (d *Dispatcher) State(ctx context.Context, id string) (*State, error) {
	if d.store == nil {
		return nil, ErrStateNotFound
	}
	return d.store.Get(ctx, id)
}

func (d *Dispatcher) handle(ctx context.Context, job Job) error {
	d.mu.RLock()
	fn, ok := d.tasks[job.Name]
	d.mu.RUnlock()
	if !ok {
		_ = d.save(ctx, State{ID: job.ID, Name: job.Name, Status: StatusFailed, Reason: "unknown task"})
		return nil
	}

	task := NewTask(job.ID, job.Name, job.Payload, d.store, d.logger)
	task.Attempt = job.Attempt
	_ = task.UpdateState(ctx, StatusStarted, nil)

	outcome, err := fn(ctx, task)
	if err != nil {
		return err
	}
	if outcome == nil {
		outcome = Completed(nil)
	}
	if !outcome.Status.Terminal() {
		outcome.Status = StatusCompleted
	}

	d.logger.Info("task finished",
		zap.String("task_id", job.ID),
		zap.String("task", job.Name),
		zap.String("status", string(outcome.Status)),
		zap.String("reason", outcome.Reason),
	)
	// A failed save must not rerun a task that already took effect.
	_ = d.save(ctx, State{
		ID:     job.ID,
		Name:   job.Name,
		Status: outcome.Status,
		Result: outcome.Result,
		Reason: outcome.Reason,
	})
	return nil
}

func (d *Dispatcher) exhausted(job Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.save(ctx, State{ID: job.ID, Name: job.Name, Status: StatusFailed, Reason: err.Error()})
}

func (d *Dispatcher) save(ctx context.Context, state State) error {
	if d.store == nil {
		return nil
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	if err := d.store.Save(ctx, state); err != nil {
		d.logger.Warn("failed to record task state", zap.String("task_id", state.ID), zap.Error(err))
		return err
	}
	return nil
}
