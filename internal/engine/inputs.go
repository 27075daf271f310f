package engine

import (
	"path/filepath"
	"strings"
)

// DefaultExtensions 默认支持的输入文件扩展名
var DefaultExtensions = []string{".apk", ".dex", ".jar"}

// InputFilter 按扩展名识别支持的安装包格式
type InputFilter struct {
	extensions []string
}

// NewInputFilter 创建输入过滤器，extensions 为空时使用 DefaultExtensions
func NewInputFilter(extensions []string) *InputFilter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return &InputFilter{extensions: normalized}
}

// Supported 判断文件名是否为支持的格式
func (f *InputFilter) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range f.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Extensions 返回规范化后的扩展名列表
func (f *InputFilter) Extensions() []string {
	out := make([]string, len(f.extensions))
	copy(out, f.extensions)
	return out
}
