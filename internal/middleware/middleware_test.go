package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/internal/service"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/middleware/requestid"
)

type validatorStub struct{}

func (validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.JWTClaims{UserID: "alice"}, nil
}

type recorderStub struct {
	events []*models.OrderEvent
	err    error
}

func (r *recorderStub) Create(_ context.Context, event *models.OrderEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(validatorStub{}))
	router.GET("/me", func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token good", http.StatusUnauthorized},
		{"Bearer bad", http.StatusUnauthorized},
		{"Bearer good", http.StatusOK},
		{"bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		router.ServeHTTP(w, req)
		require.Equal(t, tc.status, w.Code, tc.header)
	}
}

func TestOrderEventsRecordsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &recorderStub{err: errors.New("db down")}

	router := gin.New()
	router.Use(requestid.Middleware())
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "alice"})
		c.Next()
	})
	router.PUT("/orders/:order_id", OrderEvents(recorder, models.OrderEventLinks, nil), func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/orders/42", nil)
	req.Header.Set(requestid.HeaderName, "req-1")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	require.Equal(t, models.OrderEventLinks, event.Action)
	require.Equal(t, "42", *event.OrderID)
	require.Equal(t, "alice", *event.UserID)
	require.Equal(t, "req-1", event.RequestID)
	require.Equal(t, "PUT:/orders/:order_id", event.Program)
	require.Equal(t, http.StatusNotFound, event.StatusCode)
}

func TestOrderEventsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/orders/:order_id", OrderEvents(nil, models.OrderEventList, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()

	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/orders/:order_id/download/:ftype/c/:code", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/1/download/00/c/secret-code", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere/secret-code", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				require.False(t, strings.Contains(label.GetValue(), "secret-code"))
			}
		}
	}
	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
