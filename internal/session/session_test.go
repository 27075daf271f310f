package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine/enginetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// writeFile 在临时目录下创建一个空文件
func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))
	return path
}

func boundSession(t *testing.T) (*Session, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	path := writeFile(t, t.TempDir(), "app.apk")
	eng.Register(path, enginetest.SamplePackage())

	s := New("a1", eng, nil, testLogger())
	require.NoError(t, s.Bind(context.Background(), path))
	return s, eng
}

func TestBind_Success(t *testing.T) {
	s, eng := boundSession(t)

	assert.Equal(t, StateBound, s.State())
	assert.NoError(t, s.BindError())
	assert.Equal(t, 1, eng.Opens())

	info := s.Info()
	assert.Equal(t, "a1", info.ID)
	assert.Equal(t, "bound", info.State)
	assert.Len(t, info.Inputs, 1)
}

func TestBind_ResourceErrors(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "notes.txt")

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.apk")},
		{"directory", dir},
		{"unsupported extension", txt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			s := New("x", eng, nil, testLogger())

			err := s.Bind(context.Background(), tt.path)

			var resErr *ResourceError
			require.ErrorAs(t, err, &resErr)
			assert.Equal(t, tt.path, resErr.Path)
			assert.Equal(t, StateUnbound, s.State())
			assert.Equal(t, 0, eng.Opens())

			_, err = s.ClassSource(context.Background(), "com.example.Foo")
			assert.ErrorIs(t, err, ErrNotBound)
		})
	}
}

func TestBind_EngineFailure(t *testing.T) {
	eng := enginetest.New()
	eng.OpenHook = func(inputs []string) error { return errors.New("dex parse error") }
	path := writeFile(t, t.TempDir(), "broken.dex")

	s := New("b", eng, nil, testLogger())
	err := s.Bind(context.Background(), path)

	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, s.Info().BindError, "dex parse error")

	_, err = s.Manifest(context.Background())
	assert.ErrorIs(t, err, ErrNotBound)
	assert.True(t, IsAbsent(err))
}

func TestBind_Twice(t *testing.T) {
	s, _ := boundSession(t)
	path := writeFile(t, t.TempDir(), "other.apk")

	assert.ErrorIs(t, s.Bind(context.Background(), path), ErrAlreadyBound)
}

func TestBindDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.dex")
	writeFile(t, dir, "a.apk")
	writeFile(t, dir, "readme.md")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.apk"), 0o755))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "deep.jar")

	eng := enginetest.New()
	s := New("dir", eng, nil, testLogger())
	require.NoError(t, s.BindDirectory(context.Background(), dir))

	handles := eng.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, []string{filepath.Join(dir, "a.apk"), filepath.Join(dir, "b.dex")}, handles[0].Inputs())
}

func TestBindDirectory_NoSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md")

	eng := enginetest.New()
	s := New("empty", eng, nil, testLogger())
	err := s.BindDirectory(context.Background(), dir)

	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, StateUnbound, s.State())
	assert.Equal(t, 0, eng.Opens())
}

func TestBindDirectory_NotADirectory(t *testing.T) {
	file := writeFile(t, t.TempDir(), "a.apk")
	s := New("nd", enginetest.New(), nil, testLogger())

	var resErr *ResourceError
	assert.ErrorAs(t, s.BindDirectory(context.Background(), file), &resErr)
}

func TestQueries(t *testing.T) {
	s, _ := boundSession(t)
	ctx := context.Background()

	code, err := s.ClassSource(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Contains(t, code, "public class Foo")

	smali, err := s.ClassSmali(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Contains(t, smali, ".class public Lcom/example/Foo;")

	super, err := s.SuperClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Base", super)

	super, err = s.SuperClass(ctx, "com.example.Base")
	require.NoError(t, err)
	assert.Equal(t, ObjectClass, super)

	ifaces, err := s.Interfaces(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"java.lang.Runnable", "com.example.Listener"}, ifaces)

	methods, err := s.Methods(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Contains(t, methods, "com.example.Foo.bar(java.lang.String, int):void")

	fields, err := s.Fields(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.Foo.count", "com.example.Foo.name"}, fields)

	callers, err := s.ClassCallers(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.MainActivity"}, callers)

	none, err := s.ClassCallers(ctx, "com.example.Base")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMethodQueries(t *testing.T) {
	s, _ := boundSession(t)
	ctx := context.Background()
	const bar = "com.example.Foo.bar(java.lang.String, int):void"

	code, err := s.MethodSource(ctx, "com.example.Foo", bar)
	require.NoError(t, err)
	assert.Contains(t, code, "public void bar")

	callers, err := s.MethodCallers(ctx, "com.example.Foo", bar)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.MainActivity.onCreate(android.os.Bundle):void"}, callers)

	overrides, err := s.MethodOverrides(ctx, "com.example.Foo", bar)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.Base.bar(java.lang.String, int):void"}, overrides)

	_, err = s.MethodSource(ctx, "com.example.Foo", "com.example.Foo.bar(int):void")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	_, err = s.MethodSource(ctx, "com.example.Nope", "com.example.Nope.bar():void")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestExactMatchOnly(t *testing.T) {
	s, _ := boundSession(t)
	ctx := context.Background()

	for _, name := range []string{"Foo", "com.example.foo", "com.example.Foo ", "example.Foo"} {
		_, err := s.ClassSource(ctx, name)
		assert.ErrorIs(t, err, ErrClassNotFound, name)
	}
}

func TestManifestAndExportedComponents(t *testing.T) {
	s, _ := boundSession(t)
	ctx := context.Background()

	manifest, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Contains(t, manifest, `package="com.example"`)

	activities, err := s.ExportedComponents(ctx, ComponentActivity)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.MainActivity", "com.example.DeepLinkActivity", "com.example.Alias"}, activities)

	services, err := s.ExportedComponents(ctx, ComponentService)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.SyncService"}, services)

	receivers, err := s.ExportedComponents(ctx, ComponentReceiver)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.BootReceiver"}, receivers)
}

func TestManifestMissing(t *testing.T) {
	eng := enginetest.New()
	path := writeFile(t, t.TempDir(), "classes.dex")
	eng.Register(path, &enginetest.Package{})

	s := New("m", eng, nil, testLogger())
	require.NoError(t, s.Bind(context.Background(), path))

	_, err := s.Manifest(context.Background())
	assert.ErrorIs(t, err, ErrManifestNotFound)

	_, err = s.ExportedComponents(context.Background(), ComponentActivity)
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestClose_Once(t *testing.T) {
	s, eng := boundSession(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, eng.Handles()[0].Closes())

	_, err := s.ClassSource(context.Background(), "com.example.Foo")
	assert.ErrorIs(t, err, ErrClosed)

	path := writeFile(t, t.TempDir(), "again.apk")
	assert.ErrorIs(t, s.Bind(context.Background(), path), ErrClosed)
}

func TestClose_Concurrent(t *testing.T) {
	s, eng := boundSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, eng.Handles()[0].Closes())
}

func TestClose_Unbound(t *testing.T) {
	s := New("u", enginetest.New(), nil, testLogger())
	assert.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

// mockHandle 用于验证引擎错误的传递
type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) Manifest(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) ClassNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) ClassCode(ctx context.Context, class string) (string, error) {
	args := m.Called(ctx, class)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) ClassSmali(ctx context.Context, class string) (string, error) {
	args := m.Called(ctx, class)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) SuperClass(ctx context.Context, class string) (string, error) {
	args := m.Called(ctx, class)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) Interfaces(ctx context.Context, class string) ([]string, error) {
	args := m.Called(ctx, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) Methods(ctx context.Context, class string) ([]string, error) {
	args := m.Called(ctx, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) Fields(ctx context.Context, class string) ([]string, error) {
	args := m.Called(ctx, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) MethodCode(ctx context.Context, class, method string) (string, error) {
	args := m.Called(ctx, class, method)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) ClassUsages(ctx context.Context, class string) ([]string, error) {
	args := m.Called(ctx, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) MethodUsages(ctx context.Context, class, method string) ([]string, error) {
	args := m.Called(ctx, class, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) MethodOverrides(ctx context.Context, class, method string) ([]string, error) {
	args := m.Called(ctx, class, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockHandle) Close() error {
	return m.Called().Error(0)
}

type mockEngine struct {
	handle engine.Handle
}

func (e *mockEngine) Open(ctx context.Context, inputs []string) (engine.Handle, error) {
	return e.handle, nil
}

func TestEngineErrors(t *testing.T) {
	h := new(mockHandle)
	h.On("ClassNames", mock.Anything).Return([]string{"a.B"}, nil).Once()
	h.On("ClassCode", mock.Anything, "a.B").Return("", errors.New("decompilation crashed"))
	h.On("ClassSmali", mock.Anything, "a.B").Return("", engine.ErrNotFound)
	h.On("Interfaces", mock.Anything, "a.B").Return(nil, nil)
	h.On("Close").Return(errors.New("kill failed"))

	path := writeFile(t, t.TempDir(), "app.apk")
	s := New("m", &mockEngine{handle: h}, nil, testLogger())
	require.NoError(t, s.Bind(context.Background(), path))

	ctx := context.Background()
	_, err := s.ClassSource(ctx, "a.B")
	require.Error(t, err)
	assert.False(t, IsAbsent(err))
	assert.Contains(t, err.Error(), "decompilation crashed")

	_, err = s.ClassSmali(ctx, "a.B")
	assert.ErrorIs(t, err, ErrClassNotFound)

	ifaces, err := s.Interfaces(ctx, "a.B")
	require.NoError(t, err)
	assert.Equal(t, []string{}, ifaces)

	assert.Error(t, s.Close())
	assert.NoError(t, s.Close())

	h.AssertExpectations(t)
	h.AssertNumberOfCalls(t, "Close", 1)
}
