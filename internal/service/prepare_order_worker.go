package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/pkg/jobs"
)

// OrderBuilder assembles the archives of an order inside its collection.
type OrderBuilder interface {
	Build(ctx context.Context, task models.PrepareOrderTask) error
}

// PrepareOrderWorker runs order preparation tasks through an external builder.
type PrepareOrderWorker struct {
	builder    OrderBuilder
	logger     *zap.Logger
	maxRetries int
}

// NewPrepareOrderWorker constructs a worker. builder may be nil.
func NewPrepareOrderWorker(builder OrderBuilder, maxRetries int, logger *zap.Logger) *PrepareOrderWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PrepareOrderWorker{builder: builder, logger: logger, maxRetries: maxRetries}
}

// Run hands the order to the builder. Builder errors are retried by the queue until
// the last attempt, which is recorded as FAILED.
func (w *PrepareOrderWorker) Run(ctx context.Context, task *jobs.Task) (*jobs.Outcome, error) {
	payload, ok := task.Payload.(models.PrepareOrderTask)
	if !ok {
		return jobs.Failed(fmt.Sprintf("unexpected payload %T", task.Payload), nil), nil
	}
	if w.builder == nil {
		w.logger.Warn("order preparation skipped", zap.String("task_id", task.ID), zap.String("order_id", payload.OrderID))
		return jobs.Failed("order builder not configured", nil), nil
	}

	_ = task.UpdateState(ctx, jobs.StatusProgress, map[string]interface{}{"order_id": payload.OrderID, "zip_file_name": payload.ZipName})
	if err := w.builder.Build(ctx, payload); err != nil {
		if task.Attempt >= w.maxRetries {
			w.logger.Error("order preparation failed", zap.String("task_id", task.ID), zap.String("order_id", payload.OrderID), zap.Error(err))
			return jobs.Failed(err.Error(), nil), nil
		}
		w.logger.Warn("order preparation attempt failed", zap.String("task_id", task.ID), zap.Int("attempt", task.Attempt), zap.Error(err))
		return nil, err
	}

	return jobs.Completed(map[string]interface{}{
		"order_id":      payload.OrderID,
		"zip_file_name": payload.ZipName,
	}), nil
}
