package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/pkg/jobs"
)

type builderStub struct {
	calls []models.PrepareOrderTask
	err   error
}

func (b *builderStub) Build(_ context.Context, task models.PrepareOrderTask) error {
	b.calls = append(b.calls, task)
	return b.err
}

func prepareTask(attempt int) *jobs.Task {
	task := jobs.NewTask("task-9", models.TaskPrepareOrder, models.PrepareOrderTask{
		OrderID: "42",
		ZipName: "order_42_unrestricted.zip",
	}, &recordingStateStore{}, nil)
	task.Attempt = attempt
	return task
}

func TestPrepareOrderWorkerCompletes(t *testing.T) {
	builder := &builderStub{}
	worker := NewPrepareOrderWorker(builder, 2, nil)

	outcome, err := worker.Run(context.Background(), prepareTask(0))
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, outcome.Status)
	require.Len(t, builder.calls, 1)
	require.Equal(t, "order_42_unrestricted.zip", outcome.Result.(map[string]interface{})["zip_file_name"])
}

func TestPrepareOrderWorkerRetriesUntilLastAttempt(t *testing.T) {
	builder := &builderStub{err: errors.New("builder offline")}
	worker := NewPrepareOrderWorker(builder, 2, nil)

	outcome, err := worker.Run(context.Background(), prepareTask(1))
	require.Error(t, err)
	require.Nil(t, outcome)

	outcome, err = worker.Run(context.Background(), prepareTask(2))
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, outcome.Status)
	require.Equal(t, "builder offline", outcome.Reason)
}

func TestPrepareOrderWorkerWithoutBuilder(t *testing.T) {
	outcome, err := NewPrepareOrderWorker(nil, 0, nil).Run(context.Background(), prepareTask(0))
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, outcome.Status)
	require.Equal(t, "order builder not configured", outcome.Reason)
}
