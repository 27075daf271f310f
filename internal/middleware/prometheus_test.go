package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestMetrics 每个测试独立的 Registry，不会发生指标冲突
func setupTestMetrics(t *testing.T) *PrometheusMetrics {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewPrometheusMetrics(logger, "test")
}

func TestPrometheusMetrics_Initialization(t *testing.T) {
	pm := setupTestMetrics(t)

	assert.NotNil(t, pm.Registry())
	assert.NotNil(t, pm.httpRequestsTotal)
	assert.NotNil(t, pm.sessionEventsTotal)
	assert.NotNil(t, pm.queriesTotal)

	// 两个实例可以共存
	assert.NotPanics(t, func() { setupTestMetrics(t) })
}

func TestHTTPMiddleware(t *testing.T) {
	pm := setupTestMetrics(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(pm.HTTPMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	pm := setupTestMetrics(t)
	pm.RecordQuery("get_class_decompiled_code", "ok")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", pm.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_queries_total{operation="get_class_decompiled_code",outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSessionEventSink(t *testing.T) {
	pm := setupTestMetrics(t)
	ctx := context.Background()

	require.NoError(t, pm.Handle(ctx, events.Event{Type: events.TypeCreated, Size: 1, Capacity: 2}))
	require.NoError(t, pm.Handle(ctx, events.Event{Type: events.TypeCreated, Size: 2, Capacity: 2}))
	require.NoError(t, pm.Handle(ctx, events.Event{Type: events.TypeRejected, Size: 2, Capacity: 2}))

	assert.Equal(t, "metrics", pm.Name())
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.sessionEventsTotal.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.sessionEventsTotal.WithLabelValues("rejected")))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.sessionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.sessionCapacity))

	pm.SetCapacity(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(pm.sessionCapacity))
}

func TestMemoryMonitor(t *testing.T) {
	pm := setupTestMetrics(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	monitor := NewMemoryMonitor(logger, 10*time.Millisecond, pm.UpdateMemoryStats)
	monitor.Start()
	defer monitor.Stop()

	stats := monitor.GetStats()
	assert.Greater(t, stats.Alloc, uint64(0))
	assert.Greater(t, stats.Goroutines, 0)
	assert.Greater(t, testutil.ToFloat64(pm.memoryUsage), float64(0))

	monitor.Stop()
	monitor.Stop()
}
