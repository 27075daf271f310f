// Package mcp 以 MCP 工具的形式（stdio 上的 JSON-RPC 2.0）暴露 jadx 守护进程的 HTTP 接口
package mcp

import "encoding/json"

// ProtocolVersion 支持的 MCP 协议版本
const ProtocolVersion = "2024-11-05"

// Message JSON-RPC 2.0 消息
type Message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error JSON-RPC 2.0 错误
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// 标准 JSON-RPC 错误码
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

func newError(id interface{}, code int, message string) *Message {
	return &Message{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

func newResult(id interface{}, result interface{}) *Message {
	return &Message{
		Jsonrpc: "2.0",
		ID:      id,
		Result:  result,
	}
}

// IsRequest 带 id 的调用
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsNotification 不带 id，不需要响应
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type capabilities struct {
	Tools toolsCapability `json:"tools"`
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    capabilities `json:"capabilities"`
	ServerInfo      serverInfo   `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Content 工具结果中的一段内容
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult tools/call 的结果；守护进程返回错误时 IsError 为 true
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}
