package bridge

import (
	"encoding/json"
	"fmt"
)

// 工作进程协议：每行一个 JSON 请求，每行一个 JSON 响应，响应通过 id 与请求对应
const (
	opPing            = "ping"
	opOpen            = "open"
	opClose           = "close"
	opManifest        = "manifest"
	opClasses         = "classes"
	opClassCode       = "class_code"
	opClassSmali      = "class_smali"
	opSuperClass      = "superclass"
	opInterfaces      = "interfaces"
	opMethods         = "methods"
	opFields          = "fields"
	opMethodCode      = "method_code"
	opClassUsages     = "class_usages"
	opMethodUsages    = "method_usages"
	opMethodOverrides = "method_overrides"
)

// request 发送给工作进程的请求
type request struct {
	ID     string   `json:"id"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs,omitempty"`
	Class  string   `json:"class,omitempty"`
	Method string   `json:"method,omitempty"`
}

// response 工作进程的响应
type response struct {
	ID       string          `json:"id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	NotFound bool            `json:"not_found,omitempty"`
}

// RemoteError 工作进程返回的错误
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine %s failed: %s", e.Op, e.Message)
}

// target 用于错误信息的请求目标描述
func (r *request) target() string {
	switch {
	case r.Method != "":
		return r.Method
	case r.Class != "":
		return r.Class
	default:
		return r.Op
	}
}
