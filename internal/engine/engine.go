// Package engine 定义守护进程与外部反编译引擎之间的能力契约
//
// 引擎本身（解析 APK/DEX、恢复控制流、生成源码和 smali）是黑盒，
// 守护进程只通过 Engine 和 Handle 两个接口访问它。
package engine

import (
	"context"
	"errors"
)

// ErrNotFound 引擎中不存在请求的类、方法或资源
var ErrNotFound = errors.New("not found in engine")

// Engine 引擎工厂：对一组输入文件创建一个分析句柄
type Engine interface {
	Open(ctx context.Context, inputs []string) (Handle, error)
}

// Handle 已加载输入的引擎句柄
//
// 类名和方法签名均为规范形式（com.example.Foo / com.example.Foo.bar(int):void）。
// 句柄不保证并发安全，调用方负责串行化访问。
type Handle interface {
	// Manifest 返回 AndroidManifest.xml 文本，不存在时返回 ErrNotFound
	Manifest(ctx context.Context) (string, error)
	// ClassNames 枚举所有已加载的类（包括内部类）
	ClassNames(ctx context.Context) ([]string, error)
	ClassCode(ctx context.Context, class string) (string, error)
	ClassSmali(ctx context.Context, class string) (string, error)
	// SuperClass 没有父类时返回空字符串
	SuperClass(ctx context.Context, class string) (string, error)
	Interfaces(ctx context.Context, class string) ([]string, error)
	// Methods 返回该类所有方法的规范签名
	Methods(ctx context.Context, class string) ([]string, error)
	Fields(ctx context.Context, class string) ([]string, error)
	MethodCode(ctx context.Context, class, method string) (string, error)
	ClassUsages(ctx context.Context, class string) ([]string, error)
	MethodUsages(ctx context.Context, class, method string) ([]string, error)
	MethodOverrides(ctx context.Context, class, method string) ([]string, error)
	// Close 释放句柄持有的所有资源
	Close() error
}

// ProcessStats 引擎工作进程的资源统计
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// StatsReporter 可选接口：由外部进程承载的句柄可以报告进程统计
type StatsReporter interface {
	Stats() (*ProcessStats, error)
}
