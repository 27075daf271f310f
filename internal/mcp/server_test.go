package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/api"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine/enginetest"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// setupDaemon 启动真实路由，返回守护进程地址和一个已注册样例包的文件路径
func setupDaemon(t *testing.T) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testLogger()

	eng := enginetest.New()
	apk := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(apk, []byte("PK"), 0o644))
	eng.Register(apk, enginetest.SamplePackage())

	reg := registry.New(func(id string) *session.Session {
		return session.New(id, eng, nil, logger)
	}, logger)
	t.Cleanup(func() { reg.RemoveAll(context.Background()) })

	srv := httptest.NewServer(api.SetupRouter(api.Deps{
		Addr:     "localhost:8651",
		Registry: reg,
		Logger:   logger,
	}))
	t.Cleanup(srv.Close)

	return strings.TrimPrefix(srv.URL, "http://"), apk
}

func request(t *testing.T, id int, method string, params interface{}) string {
	t.Helper()
	msg := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func callTool(t *testing.T, id int, name string, args map[string]interface{}) string {
	return request(t, id, "tools/call", map[string]interface{}{"name": name, "arguments": args})
}

type response struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// serve 把 lines 逐行送入服务，返回全部响应
func serve(t *testing.T, addr string, lines ...string) []response {
	t.Helper()
	srv := NewServer(NewClient(addr, 5*time.Second), "test", testLogger())

	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, srv.Serve(context.Background(), in, &out))

	var responses []response
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	for scanner.Scan() {
		var r response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r), scanner.Text())
		responses = append(responses, r)
	}
	return responses
}

func toolResult(t *testing.T, r response) (map[string]interface{}, bool) {
	t.Helper()
	require.Nil(t, r.Error)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(r.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &body), result.Content[0].Text)
	return body, result.IsError
}

func TestInitialize(t *testing.T) {
	responses := serve(t, "localhost:1", request(t, 1, "initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      map[string]string{"name": "agent"},
	}))
	require.Len(t, responses, 1)

	var result initializeResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "jadx-daemon-mcp", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
	assert.Equal(t, float64(1), responses[0].ID)
}

func TestToolsList(t *testing.T) {
	responses := serve(t, "localhost:1", request(t, 7, "tools/list", nil))
	require.Len(t, responses, 1)

	var result listToolsResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &result))

	byName := make(map[string]Tool, len(result.Tools))
	for _, tool := range result.Tools {
		byName[tool.Name] = tool
	}
	assert.Len(t, byName, 19)

	for _, name := range []string{
		"health", "load", "load_dir", "unload", "unload_all", "get_manifest",
		"get_all_exported_activities", "get_all_exported_services",
		"get_method_decompiled_code", "get_class_decompiled_code", "get_class_smali_code",
		"get_superclass", "get_interfaces", "get_class_methods", "get_class_fields",
		"get_method_callers", "get_class_callers", "get_method_overrides",
		"update_max_instance_count",
	} {
		tool, ok := byName[name]
		if assert.True(t, ok, name) {
			assert.Equal(t, "object", tool.InputSchema.Type)
			assert.NotEmpty(t, tool.Description)
		}
	}

	assert.Equal(t, []string{"instanceId", "className"}, byName["get_class_methods"].InputSchema.Required)
	assert.Equal(t, []string{"instanceId", "methodName"}, byName["get_method_overrides"].InputSchema.Required)
	assert.Equal(t, "integer", byName["update_max_instance_count"].InputSchema.Properties["count"].Type)
	assert.Empty(t, byName["unload_all"].InputSchema.Required)
}

func TestToolsCall(t *testing.T) {
	addr, apk := setupDaemon(t)

	responses := serve(t, addr,
		callTool(t, 1, "load", map[string]interface{}{"instanceId": "app", "filePath": apk}),
		callTool(t, 2, "get_class_methods", map[string]interface{}{"instanceId": "app", "className": "Lcom/example/Foo;"}),
		callTool(t, 3, "get_superclass", map[string]interface{}{"instanceId": "ghost", "className": "Lcom/example/Foo;"}),
		callTool(t, 4, "get_method_decompiled_code", map[string]interface{}{"instanceId": "app", "methodName": "bad"}),
		callTool(t, 5, "update_max_instance_count", map[string]interface{}{"count": 3}),
		callTool(t, 6, "health", nil),
	)
	require.Len(t, responses, 6)

	body, isErr := toolResult(t, responses[0])
	assert.False(t, isErr)
	assert.Equal(t, "app", body["result"])

	body, isErr = toolResult(t, responses[1])
	assert.False(t, isErr)
	assert.Equal(t, []interface{}{
		"com.example.Foo.bar(java.lang.String, int):void",
		"com.example.Foo.run():void",
	}, body["result"])

	body, isErr = toolResult(t, responses[2])
	assert.True(t, isErr)
	assert.Equal(t, "Cannot find instance by provided instance id: ghost", body["error"])

	body, isErr = toolResult(t, responses[3])
	assert.True(t, isErr)
	assert.Contains(t, body["error"], "invalid JVM")

	body, isErr = toolResult(t, responses[4])
	assert.False(t, isErr)
	assert.Empty(t, body)

	body, isErr = toolResult(t, responses[5])
	assert.False(t, isErr)
	assert.Equal(t, "http://localhost:8651", body["result"])
}

func TestToolsCall_DaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	responses := serve(t, addr, callTool(t, 1, "health", nil))
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result CallToolResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &result))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "failed to reach jadx daemon")
}

func TestProtocolErrors(t *testing.T) {
	responses := serve(t, "localhost:1",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		request(t, 2, "resources/list", nil),
		callTool(t, 3, "rm_rf", nil),
		request(t, 4, "tools/call", nil),
		request(t, 5, "ping", nil),
	)

	// 通知没有响应
	require.Len(t, responses, 5)

	assert.Equal(t, CodeParseError, responses[0].Error.Code)
	assert.Nil(t, responses[0].ID)

	assert.Equal(t, CodeMethodNotFound, responses[1].Error.Code)
	assert.Equal(t, float64(2), responses[1].ID)

	assert.Equal(t, CodeInvalidParams, responses[2].Error.Code)
	assert.Contains(t, responses[2].Error.Message, "rm_rf")

	assert.Equal(t, CodeInvalidParams, responses[3].Error.Code)

	assert.Nil(t, responses[4].Error)
	assert.JSONEq(t, `{}`, string(responses[4].Result))
}

func TestFormatArg(t *testing.T) {
	assert.Equal(t, "3", formatArg(float64(3)))
	assert.Equal(t, "1.5", formatArg(1.5))
	assert.Equal(t, "Lcom/Foo;", formatArg("Lcom/Foo;"))
	assert.Equal(t, "true", formatArg(true))
}
