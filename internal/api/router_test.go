package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/api/handlers"
	"github.com/jadx-daemon/jadx-daemon-go/internal/config"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine/enginetest"
	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/jadx-daemon/jadx-daemon-go/internal/middleware"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/repository"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	router *gin.Engine
	eng    *enginetest.Engine
}

// setupServer 完整的路由：注册表事件经分发器写入指标与事件日志
func setupServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := repository.InitDB(&config.JournalConfig{Type: "sqlite", Path: ":memory:"}, logger)
	require.NoError(t, err)
	history := repository.NewEventRepository(db, logger)

	metrics := middleware.NewPrometheusMetrics(logger, "jadxd_test")
	hub := handlers.NewSessionHub(logger)

	dispatcher := events.NewDispatcher(events.DefaultBuffer, logger,
		metrics, repository.NewJournalSink(history), hub)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)
	t.Cleanup(hub.Close)

	eng := enginetest.New()
	reg := registry.New(func(id string) *session.Session {
		return session.New(id, eng, nil, logger)
	}, logger, registry.WithCapacity(1), registry.WithNotifier(dispatcher))
	t.Cleanup(func() { reg.RemoveAll(context.Background()) })

	r := SetupRouter(Deps{
		Addr:     "127.0.0.1:8651",
		Registry: reg,
		Logger:   logger,
		Metrics:  metrics,
		History:  history,
		Hub:      hub,
	})
	return &server{router: r, eng: eng}
}

func (s *server) do(t *testing.T, method, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestRouter_SessionLifecycle(t *testing.T) {
	s := setupServer(t)

	apk := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(apk, []byte("PK"), 0o644))
	s.eng.Register(apk, enginetest.SamplePackage())

	w := s.do(t, http.MethodGet, "/load", url.Values{"instanceId": {"app"}, "filePath": {apk}})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/load", url.Values{"instanceId": {"other"}, "filePath": {apk}})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = s.do(t, http.MethodGet, "/get_class_methods", url.Values{"instanceId": {"app"}, "className": {"Lcom/example/Foo;"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/unload", url.Values{"instanceId": {"app"}})
	require.Equal(t, http.StatusOK, w.Code)

	// 事件异步写入日志
	var history []interface{}
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/sessions/history", url.Values{"instanceId": {"app"}})
		if w.Code != http.StatusOK {
			return false
		}
		history = decode(t, w)["result"].([]interface{})
		return len(history) == 2
	}, 3*time.Second, 20*time.Millisecond)

	latest := history[0].(map[string]interface{})
	assert.Equal(t, "removed", latest["type"])

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/sessions/history/counts", nil)
		counts := decode(t, w)["result"].(map[string]interface{})
		return counts["created"] == float64(1) && counts["rejected"] == float64(1) && counts["removed"] == float64(1)
	}, 3*time.Second, 20*time.Millisecond)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `jadxd_test_queries_total{operation="get_class_methods",outcome="ok"} 1`)
	assert.Contains(t, body, `jadxd_test_session_events_total{type="created"} 1`)
	assert.Contains(t, body, `jadxd_test_http_requests_total{method="GET",path="/load",status="200"} 1`)
}

func TestRouter_HistoryRejectsBadLimit(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodGet, "/sessions/history", url.Values{"limit": {"0"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/sessions/history", url.Values{"limit": {"5"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["result"])
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodOptions, "/get_manifest", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_OptionalRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := registry.New(func(id string) *session.Session {
		return session.New(id, enginetest.New(), nil, logger)
	}, logger)
	r := SetupRouter(Deps{Addr: "localhost:8651", Registry: reg, Logger: logger})

	for _, path := range []string{"/metrics", "/sessions/history", "/ws/sessions"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "http://localhost:8651"))
}
