package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxMessageSize 单条请求的最大字节数
const MaxMessageSize = 1 << 20

// Server MCP 工具服务，每个工具调用转发到守护进程的同名路由
type Server struct {
	client  *Client
	version string
	logger  *logrus.Logger

	tools []Tool
	index map[string]*Tool

	writeMu sync.Mutex
}

// NewServer 创建工具服务；日志不能写到 stdout，那是协议通道
func NewServer(client *Client, version string, logger *logrus.Logger) *Server {
	s := &Server{
		client:  client,
		version: version,
		logger:  logger,
		tools:   Tools(),
	}
	s.index = make(map[string]*Tool, len(s.tools))
	for i := range s.tools {
		s.index[s.tools[i].Name] = &s.tools[i]
	}
	return s
}

// Serve 逐行读取请求并写回响应，直到 in 结束或 ctx 取消
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)

	s.logger.WithField("daemon", s.client.BaseURL()).Info("MCP server started")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		var resp *Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.WithError(err).Warn("Failed to parse JSON-RPC message")
			resp = newError(nil, CodeParseError, "Parse error: "+err.Error())
		} else {
			resp = s.handleMessage(ctx, &msg)
		}
		if resp == nil {
			continue
		}
		if err := s.write(out, resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read from stdin: %w", err)
	}
	s.logger.Info("MCP client disconnected")
	return nil
}

func (s *Server) write(out io.Writer, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(out, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write to stdout: %w", err)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, msg *Message) *Message {
	if msg.IsNotification() {
		s.logger.WithField("method", msg.Method).Debug("Notification received")
		return nil
	}
	if !msg.IsRequest() {
		return newError(msg.ID, CodeInvalidRequest, "Invalid message: not a request or notification")
	}

	switch msg.Method {
	case "initialize":
		return newResult(msg.ID, &initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    capabilities{Tools: toolsCapability{}},
			ServerInfo:      serverInfo{Name: "jadx-daemon-mcp", Version: s.version},
		})
	case "ping":
		return newResult(msg.ID, struct{}{})
	case "tools/list":
		return newResult(msg.ID, &listToolsResult{Tools: s.tools})
	case "tools/call":
		var params callToolParams
		if len(msg.Params) == 0 || json.Unmarshal(msg.Params, &params) != nil {
			return newError(msg.ID, CodeInvalidParams, "Invalid params: expected object")
		}
		result, err := s.callTool(ctx, &params)
		if err != nil {
			var rpcErr *Error
			if errors.As(err, &rpcErr) {
				return newError(msg.ID, rpcErr.Code, rpcErr.Message)
			}
			return newError(msg.ID, CodeInternalError, err.Error())
		}
		return newResult(msg.ID, result)
	default:
		return newError(msg.ID, CodeMethodNotFound, "Method not found: "+msg.Method)
	}
}

// callTool 转发到守护进程；守护进程的错误响应作为 isError 结果返回给模型
func (s *Server) callTool(ctx context.Context, params *callToolParams) (*CallToolResult, error) {
	tool, ok := s.index[params.Name]
	if !ok {
		return nil, &Error{Code: CodeInvalidParams, Message: "Unknown tool: " + params.Name}
	}

	query := url.Values{}
	for name := range tool.InputSchema.Properties {
		if v, ok := params.Arguments[name]; ok && v != nil {
			query.Set(name, formatArg(v))
		}
	}

	log := s.logger.WithField("tool", tool.Name)
	status, body, err := s.client.Get(ctx, tool.Name, query)
	if err != nil {
		log.WithError(err).Warn("Tool call failed")
		return &CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	log.WithField("status", status).Debug("Tool called")
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: string(body)}},
		IsError: status >= http.StatusBadRequest,
	}, nil
}

// formatArg JSON 参数转为查询字符串；整数不带小数点
func formatArg(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
