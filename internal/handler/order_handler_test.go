package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orders-api/internal/dto"
	"github.com/noah-isme/orders-api/internal/middleware"
	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/internal/service"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/jobs"
	"github.com/noah-isme/orders-api/pkg/response"
	"github.com/noah-isme/orders-api/pkg/storage"
)

type orderServiceMock struct {
	prepareOwner string
	prepareInput map[string]interface{}
	prepareResp  *models.PrepareOrderResult
	prepareErr   error
	entries      []models.OrderEntry
	links        []models.DownloadLink
	err          error
	deleteParams map[string]interface{}
	deleteTaskID string
}

func (m *orderServiceMock) List(_ context.Context, _ string) ([]models.OrderEntry, error) {
	return m.entries, m.err
}

func (m *orderServiceMock) Prepare(_ context.Context, owner string, input map[string]interface{}) (*models.PrepareOrderResult, error) {
	m.prepareOwner = owner
	m.prepareInput = input
	return m.prepareResp, m.prepareErr
}

func (m *orderServiceMock) IssueDownloadLinks(_ context.Context, _ string) ([]models.DownloadLink, error) {
	return m.links, m.err
}

func (m *orderServiceMock) RequestDeletion(_ context.Context, params map[string]interface{}) (string, error) {
	m.deleteParams = params
	return m.deleteTaskID, m.err
}

type downloadServiceMock struct {
	orderID, ftype, code string
	download             *service.Download
	err                  error
}

func (m *downloadServiceMock) Open(_ context.Context, orderID, ftype, code string) (*service.Download, error) {
	m.orderID, m.ftype, m.code = orderID, ftype, code
	return m.download, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestOrderHandlerPrepareDispatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &orderServiceMock{prepareResp: &models.PrepareOrderResult{TaskID: "task-1"}}
	handler := NewOrderHandler(svc, nil)

	payload, _ := json.Marshal(dto.PrepareOrderRequest{OrderNumber: "42", PIDs: []string{"p1"}})
	c, w := newGinContext(http.MethodPost, "/orders", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "alice"})

	handler.Prepare(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "alice", svc.prepareOwner)
	require.Equal(t, "42", svc.prepareInput["order_number"])
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	require.Equal(t, "task-1", data["task_id"])
}

func TestOrderHandlerPrepareStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &orderServiceMock{prepareResp: &models.PrepareOrderResult{Status: models.PrepareStatusExists}}
	handler := NewOrderHandler(svc, nil)

	c, w := newGinContext(http.MethodPost, "/orders", []byte(`{"order_number":"42"}`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "alice"})

	handler.Prepare(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	require.Equal(t, "exists", data["status"])
}

func TestOrderHandlerPrepareRejectsBadInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewOrderHandler(&orderServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/orders", []byte(`{"order_number":`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "alice"})
	handler.Prepare(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodPost, "/orders", []byte(`{}`))
	handler.Prepare(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderHandlerListAndLinks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &orderServiceMock{
		entries: []models.OrderEntry{{Name: "order_42_unrestricted.zip", URL: "host/api/orders/42/download/00/c/x"}},
		links:   []models.DownloadLink{{Name: "order_42_unrestricted.zip", URL: "host/api/orders/42/download/00/c/y", Size: 3}},
	}
	handler := NewOrderHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/orders/42", nil)
	c.Params = gin.Params{{Key: "order_id", Value: "42"}}
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	require.EqualValues(t, 1, body["meta"].(map[string]interface{})["total"])
	entry := body["data"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "host/api/orders/42/download/00/c/x", entry["URL"])

	c, w = newGinContext(http.MethodPut, "/orders/42", nil)
	c.Params = gin.Params{{Key: "order_id", Value: "42"}}
	handler.IssueLinks(c)
	require.Equal(t, http.StatusOK, w.Code)
	link := decodeEnvelope(t, w)["data"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "host/api/orders/42/download/00/c/y", link["url"])
}

func TestOrderHandlerServiceUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewOrderHandler(&orderServiceMock{err: appErrors.ErrServiceUnavailable}, nil)

	c, w := newGinContext(http.MethodPut, "/orders/42", nil)
	c.Params = gin.Params{{Key: "order_id", Value: "42"}}
	handler.IssueLinks(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOrderHandlerDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &orderServiceMock{deleteTaskID: "task-9"}
	handler := NewOrderHandler(svc, nil)

	payload, _ := json.Marshal(dto.DeleteOrdersRequest{RequestID: "r1", Orders: []string{"42", "99"}})
	c, w := newGinContext(http.MethodDelete, "/orders", payload)
	handler.Delete(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "r1", svc.deleteParams["request_id"])
	require.Len(t, svc.deleteParams["orders"], 2)
}

func TestOrderHandlerDownloadStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	downloads := &downloadServiceMock{download: &service.Download{
		Name:        "order_42_unrestricted1.zip",
		Size:        5,
		ContentType: "application/zip",
		Body:        io.NopCloser(strings.NewReader("bytes")),
	}}
	handler := NewOrderHandler(nil, downloads)

	router := gin.New()
	router.GET("/api/orders/:order_id/download/:ftype/c/:code", handler.Download)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/42/download/01/c/abc%2Bdef", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "bytes", w.Body.String())
	require.Equal(t, `attachment; filename="order_42_unrestricted1.zip"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	require.Equal(t, "42", downloads.orderID)
	require.Equal(t, "01", downloads.ftype)
	require.Equal(t, "abc+def", downloads.code)
}

func newDownloadRouter(t *testing.T) (*gin.Engine, *service.OrderService) {
	t.Helper()
	root := t.TempDir()
	backend, err := storage.NewFileBackend(root, storage.NewTicketSigner("secret", time.Hour))
	require.NoError(t, err)
	require.NoError(t, backend.CreateCollectionInheritable(context.Background(), "/orders/42", "owner"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "orders", "42", "order_42_unrestricted.zip"), []byte("zip"), 0o644))

	metrics := service.NewMetricsService()
	tickets := service.NewTicketService(backend, metrics, nil, 10)
	orders := service.NewOrderService(backend, tickets, nil, nil, metrics, nil, service.OrderServiceConfig{
		OrdersRoot: "/orders",
		PublicHost: "data.example.org",
		APIPrefix:  "/api",
	})
	downloads := service.NewDownloadService(backend, tickets, metrics, nil, "/orders")

	router := gin.New()
	router.GET("/api/orders/:order_id/download/:ftype/c/:code", NewOrderHandler(orders, downloads).Download)
	return router, orders
}

func TestOrderHandlerDownloadDenialsLookIdentical(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, orders := newDownloadRouter(t)

	links, err := orders.IssueDownloadLinks(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, links, 1)
	code := links[0].URL[strings.Index(links[0].URL, "/c/")+len("/c/"):]

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	ok := get("/api/orders/42/download/00/c/" + code)
	require.Equal(t, http.StatusOK, ok.Code)
	require.Equal(t, "zip", ok.Body.String())

	denials := map[string]string{
		"absent order":    "/api/orders/77/download/00/c/" + code,
		"absent artifact": "/api/orders/42/download/01/c/" + code,
		"wrong code":      "/api/orders/42/download/00/c/not-the-code",
	}
	bodies := make(map[string]string, len(denials))
	for name, path := range denials {
		w := get(path)
		require.Equal(t, http.StatusNotFound, w.Code, name)
		require.Empty(t, w.Header().Get("Content-Disposition"), name)
		bodies[name] = w.Body.String()
	}

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal([]byte(bodies["absent artifact"]), &envelope))
	require.Equal(t, appErrors.ErrNotFound.Code, envelope.Error.Code)
	require.Equal(t, "Order '42' not found (or no permissions)", envelope.Error.Message)
	require.Equal(t, bodies["absent artifact"], bodies["wrong code"])

	// only the order id differs for an absent order
	require.Equal(t, bodies["absent artifact"], strings.Replace(bodies["absent order"], "'77'", "'42'", 1))
}

type taskStateMock struct {
	state *jobs.State
	err   error
}

func (m *taskStateMock) State(_ context.Context, _ string) (*jobs.State, error) {
	return m.state, m.err
}

func TestTaskHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewTaskHandler(&taskStateMock{state: &jobs.State{ID: "task-1", Status: jobs.StatusProgress, Meta: map[string]interface{}{"step": 1}}})

	c, w := newGinContext(http.MethodGet, "/tasks/task-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "task-1"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	require.Equal(t, "PROGRESS", data["status"])

	handler = NewTaskHandler(&taskStateMock{err: jobs.ErrStateNotFound})
	c, w = newGinContext(http.MethodGet, "/tasks/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{
		"storage": func(context.Context) error { return nil },
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return appErrors.ErrServiceUnavailable },
	})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
