package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/internal/service"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/response"
)

type orderService interface {
	List(ctx context.Context, orderID string) ([]models.OrderEntry, error)
	Prepare(ctx context.Context, owner string, input map[string]interface{}) (*models.PrepareOrderResult, error)
	IssueDownloadLinks(ctx context.Context, orderID string) ([]models.DownloadLink, error)
	RequestDeletion(ctx context.Context, params map[string]interface{}) (string, error)
}

type downloadService interface {
	Open(ctx context.Context, orderID, ftype, code string) (*service.Download, error)
}

// OrderHandler exposes the order lifecycle endpoints.
type OrderHandler struct {
	orders    orderService
	downloads downloadService
}

// NewOrderHandler constructs the handler.
func NewOrderHandler(orders orderService, downloads downloadService) *OrderHandler {
	return &OrderHandler{orders: orders, downloads: downloads}
}

// Prepare godoc
// @Summary Prepare an order archive
// @Description Creates the order collection and dispatches the archive build. Returns a task id, or a status when nothing was dispatched.
// @Tags Orders
// @Accept json
// @Produce json
// @Param payload body dto.PrepareOrderRequest true "Order parameters"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Security BearerAuth
// @Router /orders [post]
func (h *OrderHandler) Prepare(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	body, err := decodeBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.orders.Prepare(c.Request.Context(), claims.UserID, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.TaskID != "" {
		response.Accepted(c, result.TaskID)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// List godoc
// @Summary List order artifacts
// @Tags Orders
// @Produce json
// @Param order_id path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /orders/{order_id} [get]
func (h *OrderHandler) List(c *gin.Context) {
	entries, err := h.orders.List(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"total": len(entries)})
}

// IssueLinks godoc
// @Summary Issue download links
// @Description Issues a fresh download ticket for every archive of the order. Previously issued links stop working.
// @Tags Orders
// @Produce json
// @Param order_id path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Security BearerAuth
// @Router /orders/{order_id} [put]
func (h *OrderHandler) IssueLinks(c *gin.Context) {
	links, err := h.orders.IssueDownloadLinks(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links)
}

// Delete godoc
// @Summary Delete orders
// @Description Dispatches a bulk deletion. The outcome is posted to the completion callback.
// @Tags Orders
// @Accept json
// @Produce json
// @Param payload body dto.DeleteOrdersRequest true "Orders to delete"
// @Success 202 {object} response.Envelope
// @Security BearerAuth
// @Router /orders [delete]
func (h *OrderHandler) Delete(c *gin.Context) {
	body, err := decodeBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	taskID, err := h.orders.RequestDeletion(c.Request.Context(), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, taskID)
}

// Download godoc
// @Summary Download an order archive
// @Description Public endpoint. The code is the last issued ticket of the archive.
// @Tags Orders
// @Produce application/zip
// @Param order_id path string true "Order ID"
// @Param ftype path string true "Archive type code"
// @Param code path string true "Download code"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /orders/{order_id}/download/{ftype}/c/{code} [get]
func (h *OrderHandler) Download(c *gin.Context) {
	result, err := h.downloads.Open(c.Request.Context(), c.Param("order_id"), c.Param("ftype"), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Body.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Name))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.Size, result.ContentType, result.Body, nil)
}

func decodeBody(c *gin.Context) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if c.Request.Body == nil {
		return body, nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil && err != io.EOF {
		return nil, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid JSON body")
	}
	return body, nil
}
