package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBound 会话未成功绑定输入，所有查询都没有结果
	ErrNotBound = errors.New("session is not bound")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session is closed")
	// ErrAlreadyBound 会话只能绑定一次
	ErrAlreadyBound = errors.New("session is already bound")

	ErrClassNotFound    = errors.New("class not found")
	ErrMethodNotFound   = errors.New("method not found")
	ErrManifestNotFound = errors.New("AndroidManifest.xml not found")
)

// ResourceError 绑定阶段的资源错误：路径不存在、类型不对或引擎加载失败
type ResourceError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot bind %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot bind %s: %s", e.Path, e.Reason)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsAbsent 判断错误是否表示数据不存在（而不是请求本身有问题）
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotBound) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrMethodNotFound) ||
		errors.Is(err, ErrManifestNotFound)
}
