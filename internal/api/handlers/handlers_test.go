package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine/enginetest"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testEnv 处理器测试环境：内存引擎 + 注册表 + 路由
type testEnv struct {
	eng    *enginetest.Engine
	reg    *registry.Registry
	router *gin.Engine
	dir    string
}

func setupTestEnv(t *testing.T, recorder QueryRecorder) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testLogger()
	eng := enginetest.New()
	reg := registry.New(func(id string) *session.Session {
		return session.New(id, eng, nil, logger)
	}, logger, registry.WithCapacity(2))
	t.Cleanup(func() { reg.RemoveAll(context.Background()) })

	ih := NewInstanceHandler(reg, "localhost:8651", logger)
	qh := NewQueryHandler(reg, recorder, logger)

	r := gin.New()
	r.GET("/health", ih.Health)
	r.GET("/load", ih.Load)
	r.GET("/load_dir", ih.LoadDir)
	r.GET("/unload", ih.Unload)
	r.GET("/unload_all", ih.UnloadAll)
	r.GET("/update_max_instance_count", ih.UpdateMaxInstanceCount)
	r.GET("/sessions", ih.ListSessions)
	r.GET("/get_manifest", qh.GetManifest)
	r.GET("/get_all_exported_activities", qh.GetAllExportedActivities)
	r.GET("/get_all_exported_services", qh.GetAllExportedServices)
	r.GET("/get_method_decompiled_code", qh.GetMethodDecompiledCode)
	r.GET("/get_class_decompiled_code", qh.GetClassDecompiledCode)
	r.GET("/get_class_smali_code", qh.GetClassSmaliCode)
	r.GET("/get_superclass", qh.GetSuperClass)
	r.GET("/get_interfaces", qh.GetInterfaces)
	r.GET("/get_class_methods", qh.GetClassMethods)
	r.GET("/get_class_fields", qh.GetClassFields)
	r.GET("/get_method_callers", qh.GetMethodCallers)
	r.GET("/get_class_callers", qh.GetClassCallers)
	r.GET("/get_method_overrides", qh.GetMethodOverrides)

	return &testEnv{eng: eng, reg: reg, router: r, dir: t.TempDir()}
}

// get 发送 GET 请求并解析响应信封
func (e *testEnv) get(t *testing.T, path string, params url.Values) (int, map[string]interface{}) {
	t.Helper()
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

// samplePath 写入一个注册了示例内容的安装包
func (e *testEnv) samplePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))
	e.eng.Register(path, enginetest.SamplePackage())
	return path
}

// loadSample 通过 /load 创建一个已绑定的会话
func (e *testEnv) loadSample(t *testing.T, id string) {
	t.Helper()
	code, body := e.get(t, "/load", url.Values{
		"instanceId": {id},
		"filePath":   {e.samplePath(t, id+".apk")},
	})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, id, body["result"])
}
