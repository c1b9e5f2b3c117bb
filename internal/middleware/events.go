package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/pkg/middleware/requestid"
)

const eventWriteTimeout = 2 * time.Second

// EventRecorder stores order request events.
type EventRecorder interface {
	Create(ctx context.Context, event *models.OrderEvent) error
}

// OrderEvents records one event per order request after the handler ran. A nil
// recorder disables the middleware. Recording failures never change the response.
func OrderEvents(recorder EventRecorder, action string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if recorder == nil {
			c.Next()
			return
		}

		start := time.Now().UTC()
		c.Next()

		event := &models.OrderEvent{
			ID:         uuid.NewString(),
			Action:     action,
			RequestID:  requestid.Value(c),
			Program:    c.Request.Method + ":" + c.FullPath(),
			IPAddress:  c.ClientIP(),
			StatusCode: c.Writer.Status(),
			DurationMS: time.Since(start).Milliseconds(),
			CreatedAt:  start,
		}
		if orderID := c.Param("order_id"); orderID != "" {
			event.OrderID = &orderID
		}
		if claims, ok := CurrentUser(c); ok {
			userID := claims.UserID
			event.UserID = &userID
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), eventWriteTimeout)
		defer cancel()
		if err := recorder.Create(ctx, event); err != nil {
			logger.Warn("failed to record order event",
				zap.String("action", action),
				zap.String("request_id", event.RequestID),
				zap.Error(err),
			)
		}
	}
}
