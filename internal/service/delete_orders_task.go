package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/pkg/jobs"
)

const defaultDeleteItemTimeout = 1800 * time.Second

var errItemTimeout = errors.New("order deletion timed out")

type deletionStorage interface {
	IsCollection(ctx context.Context, p string) (bool, error)
	Remove(ctx context.Context, p string, recursive bool) error
}

type completionNotifier interface {
	Post(ctx context.Context, payload models.CallbackPayload, backdoor bool) error
}

// deletionItem is the outcome of one order: nil record means deleted.
type deletionItem struct {
	orderID string
	record  *models.ErrorRecord
}

// DeleteOrdersWorker runs bulk deletion tasks.
type DeleteOrdersWorker struct {
	storage     deletionStorage
	notifier    completionNotifier
	metrics     *MetricsService
	logger      *zap.Logger
	itemTimeout time.Duration
}

// NewDeleteOrdersWorker constructs the worker. itemTimeout bounds each remote delete.
func NewDeleteOrdersWorker(store deletionStorage, notifier completionNotifier, metrics *MetricsService, logger *zap.Logger, itemTimeout time.Duration) *DeleteOrdersWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if itemTimeout <= 0 {
		itemTimeout = defaultDeleteItemTimeout
	}
	return &DeleteOrdersWorker{storage: store, notifier: notifier, metrics: metrics, logger: logger, itemTimeout: itemTimeout}
}

// Run deletes the requested orders in order and posts the outcome to the completion
// callback. It never returns an error: every run ends COMPLETED or FAILED.
func (w *DeleteOrdersWorker) Run(ctx context.Context, task *jobs.Task) (outcome *jobs.Outcome, _ error) {
	payload, ok := task.Payload.(models.DeleteOrdersTask)
	if !ok {
		if ptr, isPtr := task.Payload.(*models.DeleteOrdersTask); isPtr && ptr != nil {
			payload, ok = *ptr, true
		}
	}
	if !ok {
		w.logger.Error("unexpected delete_orders payload", zap.String("task_id", task.ID), zap.String("type", fmt.Sprintf("%T", task.Payload)))
		return jobs.Failed(models.ErrCodeUnexpectedError, models.DeletionReport{Status: models.ErrCodeUnexpectedError}), nil
	}

	body := copyMap(payload.Parameters)
	params, _ := body["parameters"].(map[string]interface{})
	params = copyMap(params)
	body["parameters"] = params
	backdoor, _ := params["backdoor"].(bool)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("delete_orders panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
			outcome = w.fail(ctx, task.ID, models.ErrCodeUnexpectedError, body, backdoor)
		}
	}()

	clientRequestID := stringValue(body["request_id"])
	if clientRequestID == "" {
		return w.fail(ctx, task.ID, models.ErrCodeMissingRequestID, body, backdoor), nil
	}
	params["request_id"] = clientRequestID
	body["request_id"] = task.ID

	rawOrders, present := params["orders"]
	if !present {
		rawOrders, present = body["orders"]
	}
	delete(params, "orders")
	delete(body, "orders")
	orders, ok := orderItems(rawOrders)
	if !present || !ok {
		return w.fail(ctx, task.ID, models.ErrCodeMissingOrdersParam, body, backdoor), nil
	}
	if len(orders) == 0 {
		return w.fail(ctx, task.ID, models.ErrCodeEmptyOrdersParam, body, backdoor), nil
	}

	progress := models.DeletionProgress{Total: len(orders)}
	records := make([]models.ErrorRecord, 0)
	for i, rawOrder := range orders {
		progress.Step = i + 1
		progress.Errors = len(records)
		_ = task.UpdateState(ctx, jobs.StatusProgress, progress.Meta())

		var item deletionItem
		if orderID, ok := orderIDValue(rawOrder); ok {
			item = w.deleteOrder(ctx, payload.OrdersRoot, payload.LocalRoot, orderID)
		} else {
			w.logger.Warn("unusable order id", zap.String("task_id", task.ID), zap.Any("order", rawOrder))
			record := models.NewErrorRecord(models.ErrCodeUnexpectedError, fmt.Sprint(rawOrder))
			item.record = &record
			w.metrics.RecordDeletionItem(DeletionOutcomeError)
		}
		if item.record != nil {
			records = append(records, *item.record)
			progress.Errors = len(records)
			_ = task.UpdateState(ctx, jobs.StatusProgress, progress.Meta())
		}
	}

	callback := models.CallbackPayload{RequestID: task.ID, Parameters: params}
	report := models.DeletionReport{Status: models.DeletionStatusCompleted}
	if len(records) > 0 {
		callback.Errors = records
		report.Errors = records
	}
	w.post(ctx, callback, backdoor)

	w.logger.Info("orders deleted",
		zap.String("task_id", task.ID),
		zap.String("request_id", clientRequestID),
		zap.Int("total", len(orders)),
		zap.Int("errors", len(records)),
	)
	return jobs.Completed(report), nil
}

func (w *DeleteOrdersWorker) deleteOrder(ctx context.Context, ordersRoot, localRoot, orderID string) deletionItem {
	item := deletionItem{orderID: orderID}
	if !validOrderID(orderID) {
		record := models.NewErrorRecord(models.ErrCodeOrderNotFound, orderID)
		item.record = &record
		w.metrics.RecordDeletionItem(DeletionOutcomeNotFound)
		return item
	}

	p := orderPath(ordersRoot, orderID)
	w.logger.Info("delete request for order collection", zap.String("order_id", orderID), zap.String("path", p))

	found, err := w.guarded(ctx, func(itemCtx context.Context) (bool, error) {
		exists, err := w.storage.IsCollection(itemCtx, p)
		if err != nil || !exists {
			return exists, err
		}
		return true, w.storage.Remove(itemCtx, p, true)
	})
	switch {
	case err != nil:
		w.logger.Error("order deletion failed", zap.String("order_id", orderID), zap.Error(err))
		record := models.NewErrorRecord(models.ErrCodeUnexpectedError, orderID)
		item.record = &record
		w.metrics.RecordDeletionItem(DeletionOutcomeError)
		return item
	case !found:
		record := models.NewErrorRecord(models.ErrCodeOrderNotFound, orderID)
		item.record = &record
		w.metrics.RecordDeletionItem(DeletionOutcomeNotFound)
		return item
	}

	w.metrics.RecordDeletionItem(DeletionOutcomeDeleted)
	if localRoot != "" {
		local := filepath.Join(localRoot, orderID)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			_ = os.RemoveAll(local)
		}
	}
	return item
}

// guarded runs fn with the per-item timeout. On expiry the call is abandoned and
// reported as a failure; the batch continues.
func (w *DeleteOrdersWorker) guarded(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	itemCtx, cancel := context.WithTimeout(ctx, w.itemTimeout)
	defer cancel()

	type result struct {
		found bool
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		found, err := fn(itemCtx)
		done <- result{found: found, err: err}
	}()

	select {
	case res := <-done:
		return res.found, res.err
	case <-itemCtx.Done():
		return false, errItemTimeout
	}
}

func (w *DeleteOrdersWorker) fail(ctx context.Context, taskID, code string, body map[string]interface{}, backdoor bool) *jobs.Outcome {
	record := models.NewErrorRecord(code, "")
	params, _ := body["parameters"].(map[string]interface{})
	w.post(ctx, models.CallbackPayload{
		RequestID:  taskID,
		Parameters: params,
		Errors:     []models.ErrorRecord{record},
	}, backdoor)
	w.logger.Warn("delete_orders failed", zap.String("task_id", taskID), zap.String("code", code))
	return jobs.Failed(code, models.DeletionReport{Status: code, Errors: []models.ErrorRecord{record}})
}

func (w *DeleteOrdersWorker) post(ctx context.Context, payload models.CallbackPayload, backdoor bool) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Post(ctx, payload, backdoor); err != nil {
		w.logger.Error("completion callback failed", zap.String("request_id", payload.RequestID), zap.Error(err))
	}
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// orderItems accepts any JSON list; items are converted one by one so a bad entry
// fails alone.
func orderItems(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func orderIDValue(v interface{}) (string, bool) {
	switch v.(type) {
	case string, float64, int, int64, json.Number:
		id := stringValue(v)
		return id, id != ""
	default:
		return "", false
	}
}
