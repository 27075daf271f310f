// Package enginetest 提供内存实现的引擎，供 session、registry 和 handler 测试使用
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
)

// ErrHandleClosed 句柄关闭后继续调用
var ErrHandleClosed = errors.New("enginetest: handle closed")

// Method 方法夹具
type Method struct {
	Signature string
	Code      string
	UsedBy    []string
	Overrides []string
}

// Class 类夹具
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Code       string
	Smali      string
	Methods    []Method
	Fields     []string
	UsedBy     []string
}

// Package 一个输入文件对应的内容
type Package struct {
	Manifest string
	Classes  []Class
}

// Engine 内存引擎
type Engine struct {
	mu       sync.Mutex
	packages map[string]*Package
	handles  []*Handle
	opens    atomic.Int32

	// Default 未注册的输入使用该内容，nil 表示空包
	Default *Package
	// OpenHook 在每次 Open 时调用，可用于注入错误或阻塞
	OpenHook func(inputs []string) error
}

// New 创建内存引擎
func New() *Engine {
	return &Engine{packages: make(map[string]*Package)}
}

// Register 注册某个输入路径对应的内容
func (e *Engine) Register(path string, pkg *Package) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packages[path] = pkg
}

// Open 实现 engine.Engine
func (e *Engine) Open(ctx context.Context, inputs []string) (engine.Handle, error) {
	e.opens.Add(1)

	if e.OpenHook != nil {
		if err := e.OpenHook(inputs); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &Handle{
		inputs:  append([]string(nil), inputs...),
		classes: make(map[string]*Class),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, input := range inputs {
		pkg, ok := e.packages[input]
		if !ok {
			pkg = e.Default
		}
		if pkg == nil {
			continue
		}
		if h.manifest == "" {
			h.manifest = pkg.Manifest
		}
		for i := range pkg.Classes {
			cls := pkg.Classes[i]
			h.classes[cls.Name] = &cls
		}
	}

	e.handles = append(e.handles, h)
	return h, nil
}

// Opens 返回 Open 被调用的次数
func (e *Engine) Opens() int {
	return int(e.opens.Load())
}

// Handles 返回所有已创建的句柄
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Handle(nil), e.handles...)
}

// Handle 内存句柄
type Handle struct {
	inputs   []string
	manifest string
	classes  map[string]*Class
	closes   atomic.Int32
}

// Inputs 返回打开时传入的输入
func (h *Handle) Inputs() []string {
	return h.inputs
}

// Closes 返回 Close 被调用的次数
func (h *Handle) Closes() int {
	return int(h.closes.Load())
}

func (h *Handle) class(name string) (*Class, error) {
	if h.closes.Load() > 0 {
		return nil, ErrHandleClosed
	}
	cls, ok := h.classes[name]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", name, engine.ErrNotFound)
	}
	return cls, nil
}

func (h *Handle) method(class, signature string) (*Method, error) {
	cls, err := h.class(class)
	if err != nil {
		return nil, err
	}
	for i := range cls.Methods {
		if cls.Methods[i].Signature == signature {
			return &cls.Methods[i], nil
		}
	}
	return nil, fmt.Errorf("method %s: %w", signature, engine.ErrNotFound)
}

func (h *Handle) Manifest(ctx context.Context) (string, error) {
	if h.closes.Load() > 0 {
		return "", ErrHandleClosed
	}
	if h.manifest == "" {
		return "", fmt.Errorf("AndroidManifest.xml: %w", engine.ErrNotFound)
	}
	return h.manifest, nil
}

func (h *Handle) ClassNames(ctx context.Context) ([]string, error) {
	if h.closes.Load() > 0 {
		return nil, ErrHandleClosed
	}
	names := make([]string, 0, len(h.classes))
	for name := range h.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (h *Handle) ClassCode(ctx context.Context, class string) (string, error) {
	cls, err := h.class(class)
	if err != nil {
		return "", err
	}
	return cls.Code, nil
}

func (h *Handle) ClassSmali(ctx context.Context, class string) (string, error) {
	cls, err := h.class(class)
	if err != nil {
		return "", err
	}
	return cls.Smali, nil
}

func (h *Handle) SuperClass(ctx context.Context, class string) (string, error) {
	cls, err := h.class(class)
	if err != nil {
		return "", err
	}
	return cls.Super, nil
}

func (h *Handle) Interfaces(ctx context.Context, class string) ([]string, error) {
	cls, err := h.class(class)
	if err != nil {
		return nil, err
	}
	return append([]string{}, cls.Interfaces...), nil
}

func (h *Handle) Methods(ctx context.Context, class string) ([]string, error) {
	cls, err := h.class(class)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cls.Methods))
	for _, m := range cls.Methods {
		out = append(out, m.Signature)
	}
	return out, nil
}

func (h *Handle) Fields(ctx context.Context, class string) ([]string, error) {
	cls, err := h.class(class)
	if err != nil {
		return nil, err
	}
	return append([]string{}, cls.Fields...), nil
}

func (h *Handle) MethodCode(ctx context.Context, class, method string) (string, error) {
	m, err := h.method(class, method)
	if err != nil {
		return "", err
	}
	return m.Code, nil
}

func (h *Handle) ClassUsages(ctx context.Context, class string) ([]string, error) {
	cls, err := h.class(class)
	if err != nil {
		return nil, err
	}
	return append([]string{}, cls.UsedBy...), nil
}

func (h *Handle) MethodUsages(ctx context.Context, class, method string) ([]string, error) {
	m, err := h.method(class, method)
	if err != nil {
		return nil, err
	}
	return append([]string{}, m.UsedBy...), nil
}

func (h *Handle) MethodOverrides(ctx context.Context, class, method string) ([]string, error) {
	m, err := h.method(class, method)
	if err != nil {
		return nil, err
	}
	return append([]string{}, m.Overrides...), nil
}

func (h *Handle) Close() error {
	h.closes.Add(1)
	return nil
}
