package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/jobs"
	"github.com/noah-isme/orders-api/pkg/response"
)

type taskStateReader interface {
	State(ctx context.Context, id string) (*jobs.State, error)
}

// TaskHandler exposes asynchronous task polling.
type TaskHandler struct {
	tasks taskStateReader
}

// NewTaskHandler constructs the handler.
func NewTaskHandler(tasks taskStateReader) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Get godoc
// @Summary Get task state
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	id := c.Param("id")
	state, err := h.tasks.State(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrStateNotFound) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "task '"+id+"' not found"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read task state"))
		return
	}
	response.JSON(c, http.StatusOK, state)
}
