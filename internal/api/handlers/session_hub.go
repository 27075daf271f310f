package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// SessionHub 通过 WebSocket 推送会话事件，同时作为 events.Sink 注册到分发器
type SessionHub struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	clientMutex sync.RWMutex
	clients     map[*hubClient]struct{}
}

// hubClient instanceID 为空时接收所有事件
type hubClient struct {
	conn       *websocket.Conn
	instanceID string
	send       chan events.Event
}

// NewSessionHub 创建事件推送中心
func NewSessionHub(logger *logrus.Logger) *SessionHub {
	return &SessionHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 守护进程默认只监听本机
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Name 实现 events.Sink
func (h *SessionHub) Name() string { return "websocket" }

// Handle 把事件放入各客户端的发送队列，队列已满的客户端丢弃该事件
func (h *SessionHub) Handle(ctx context.Context, e events.Event) error {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()

	for cl := range h.clients {
		if cl.instanceID != "" && cl.instanceID != e.InstanceID {
			continue
		}
		select {
		case cl.send <- e:
		default:
			h.logger.WithFields(logrus.Fields{
				"remote":     cl.conn.RemoteAddr().String(),
				"event_type": e.Type,
			}).Warn("WebSocket client is too slow, dropping event")
		}
	}
	return nil
}

// HandleWebSocket GET /ws/sessions?instanceId=app
func (h *SessionHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	cl := &hubClient{
		conn:       conn,
		instanceID: c.Query("instanceId"),
		send:       make(chan events.Event, clientBuffer),
	}

	h.clientMutex.Lock()
	h.clients[cl] = struct{}{}
	h.clientMutex.Unlock()

	h.logger.WithFields(logrus.Fields{
		"remote":      conn.RemoteAddr().String(),
		"instance_id": cl.instanceID,
	}).Info("WebSocket client connected")

	go h.writeLoop(cl)

	// 客户端不发送业务消息，读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.unregister(cl)
	h.logger.WithField("remote", conn.RemoteAddr().String()).Info("WebSocket client disconnected")
}

func (h *SessionHub) writeLoop(cl *hubClient) {
	defer cl.conn.Close()

	for e := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteJSON(e); err != nil {
			h.logger.WithError(err).Warn("Failed to write to WebSocket client")
			return
		}
	}

	cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	cl.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}

// unregister 只关闭一次发送队列
func (h *SessionHub) unregister(cl *hubClient) {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()

	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

// Clients 当前连接数
func (h *SessionHub) Clients() int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *SessionHub) Close() {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()

	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
	}
}
