package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/pkg/jobs"
)

const taskStateKeyPrefix = "orders:task:"

// TaskStateRepository keeps task states in Redis so any API instance can answer polls.
type TaskStateRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTaskStateRepository constructs a Redis backed task state repository.
func NewTaskStateRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TaskStateRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStateRepository{client: client, ttl: ttl, logger: logger}
}

// Save stores the state, replacing any previous one.
func (r *TaskStateRepository) Save(ctx context.Context, state jobs.State) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal task state %s: %w", state.ID, err)
	}

	key := taskStateKeyPrefix + state.ID
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get retrieves a state by task id.
func (r *TaskStateRepository) Get(ctx context.Context, id string) (*jobs.State, error) {
	if r.client == nil {
		return nil, jobs.ErrStateNotFound
	}

	key := taskStateKeyPrefix + id
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobs.ErrStateNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var state jobs.State
	if err := json.Unmarshal(raw, &state); err != nil {
		r.logger.Warn("corrupt task state", zap.String("task_id", id), zap.Error(err))
		return nil, fmt.Errorf("unmarshal task state %s: %w", id, err)
	}
	return &state, nil
}

// Close releases the underlying Redis connection if present.
func (r *TaskStateRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// MemoryTaskStateRepository keeps task states in a per-instance expirable LRU.
type MemoryTaskStateRepository struct {
	cache *expirable.LRU[string, jobs.State]
}

// NewMemoryTaskStateRepository creates an LRU holding at most size states for ttl.
func NewMemoryTaskStateRepository(size int, ttl time.Duration) *MemoryTaskStateRepository {
	if size <= 0 {
		size = 1024
	}
	return &MemoryTaskStateRepository{cache: expirable.NewLRU[string, jobs.State](size, nil, ttl)}
}

// Save stores the state, replacing any previous one.
func (r *MemoryTaskStateRepository) Save(_ context.Context, state jobs.State) error {
	r.cache.Add(state.ID, state)
	return nil
}

// Get retrieves a copy of the state by task id.
func (r *MemoryTaskStateRepository) Get(_ context.Context, id string) (*jobs.State, error) {
	state, ok := r.cache.Get(id)
	if !ok {
		return nil, jobs.ErrStateNotFound
	}
	return &state, nil
}
