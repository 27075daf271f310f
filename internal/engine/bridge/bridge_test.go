package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "JADXD_BRIDGE_TEST_WORKER"

// TestHelperWorker 不是真正的测试：作为子进程运行时扮演引擎工作进程
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	runFakeWorker(os.Stdin, os.Stdout)
	os.Exit(0)
}

// runFakeWorker 实现一个只包含 com.example.Foo 的假引擎
func runFakeWorker(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	enc := json.NewEncoder(out)

	var loaded []string
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := map[string]interface{}{"id": req.ID}
		known := req.Class == "com.example.Foo"

		switch req.Op {
		case opPing:
			resp["result"] = "pong"
		case opOpen:
			loaded = req.Inputs
			resp["result"] = len(loaded)
		case opManifest:
			resp["result"] = "<manifest package=\"com.example\"/>"
		case opClasses:
			resp["result"] = []string{"com.example.Foo"}
		case opClassCode:
			if !known {
				resp["not_found"] = true
			} else {
				resp["result"] = "class Foo {}"
			}
		case opSuperClass:
			resp["result"] = nil
		case opMethods:
			resp["result"] = []string{"com.example.Foo.bar(int):void"}
		case opMethodCode:
			if req.Method != "com.example.Foo.bar(int):void" {
				resp["not_found"] = true
			} else {
				resp["result"] = "void bar(int i) {}"
			}
		case opClose:
			resp["result"] = true
			_ = enc.Encode(resp)
			return
		default:
			resp["error"] = "unsupported op " + req.Op
		}
		_ = enc.Encode(resp)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return New(Config{
		Command:      os.Args[0],
		Args:         []string{"-test.run=^TestHelperWorker$"},
		Env:          []string{helperEnv + "=1"},
		StartTimeout: 20 * time.Second,
		CallTimeout:  10 * time.Second,
		StopGrace:    5 * time.Second,
	}, logger)
}

func TestEngine_OpenAndQuery(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	h, err := eng.Open(ctx, []string{"/tmp/app.apk"})
	require.NoError(t, err)
	defer h.Close()

	manifest, err := h.Manifest(ctx)
	require.NoError(t, err)
	assert.Contains(t, manifest, "com.example")

	classes, err := h.ClassNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.Foo"}, classes)

	code, err := h.ClassCode(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, "class Foo {}", code)

	super, err := h.SuperClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Empty(t, super)

	methodCode, err := h.MethodCode(ctx, "com.example.Foo", "com.example.Foo.bar(int):void")
	require.NoError(t, err)
	assert.Equal(t, "void bar(int i) {}", methodCode)
}

func TestEngine_NotFoundAndRemoteError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	h, err := eng.Open(ctx, []string{"/tmp/app.apk"})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ClassCode(ctx, "com.example.Missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = h.ClassSmali(ctx, "com.example.Foo")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, opClassSmali, remoteErr.Op)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	h, err := eng.Open(ctx, nil)
	require.NoError(t, err)

	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())

	_, err = h.ClassNames(ctx)
	assert.Error(t, err)
}

func TestEngine_Stats(t *testing.T) {
	eng := newTestEngine(t)

	h, err := eng.Open(context.Background(), nil)
	require.NoError(t, err)
	defer h.Close()

	reporter, ok := h.(engine.StatsReporter)
	require.True(t, ok)

	stats, err := reporter.Stats()
	require.NoError(t, err)
	assert.NotZero(t, stats.PID)
}

func TestEngine_MissingCommand(t *testing.T) {
	eng := New(Config{Command: "/nonexistent/jadx-engine-worker"}, logrus.New())

	_, err := eng.Open(context.Background(), nil)
	assert.Error(t, err)

	_, err = New(Config{}, logrus.New()).Open(context.Background(), nil)
	assert.Error(t, err)
}
