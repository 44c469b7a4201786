// Package realtime 通过 WebSocket 提供对话。
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/apierror"
	chatHandler "github.com/zhouzirui/cyberbuddy/backend/internal/handler/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// Handler WebSocket对话处理器
type Handler struct {
	chatSvc    *chatService.Service
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration
}

// New 创建WebSocket处理器。origins 为空时只接受不带 Origin 的客户端。
func New(chatSvc *chatService.Service, origins []string) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin(origins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(origins, func(o string) bool {
			return o == "*" || strings.EqualFold(o, origin)
		})
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

// InboundMessage 是客户端发来的帧。
type InboundMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// OutgoingMessage 是服务端发出的帧。
type OutgoingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// ErrorData 是 error 帧的内容。
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// maxPending 是单个连接排队等待回复的文本消息上限。
const maxPending = 8

type connection struct {
	conn   *websocket.Conn
	owner  user.Identity
	logger *slog.Logger

	writeMu sync.Mutex

	mu             sync.Mutex
	conversationID string
}

func (c *connection) currentConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *connection) setConversation(id string) {
	c.mu.Lock()
	c.conversationID = id
	c.mu.Unlock()
}

// handleWebSocket 处理WebSocket连接。读循环只负责收帧；文本消息交给单个
// worker 顺序生成回复，读循环在此期间继续处理 pong 与 ping。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID != "" {
		// 握手前校验会话，错误仍以普通 HTTP 响应返回。
		if _, err := h.chatSvc.GetSession(r.Context(), owner, conversationID); err != nil {
			apierror.Respond(w, r, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &connection{
		conn:           conn,
		owner:          owner,
		conversationID: conversationID,
		logger:         slog.With("subject", owner.SubjectID),
	}
	c.logger.Info("websocket connected", "conversation_id", conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	pending := make(chan *InboundMessage, maxPending)
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, c)
	}()
	go func() {
		defer wg.Done()
		h.replyLoop(ctx, c, pending)
	}()

	c.send(OutgoingMessage{Type: "connected", ConversationID: conversationID})

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			c.logger.Info("websocket closed", "conversation_id", c.currentConversation())
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		switch msg.Type {
		case "text":
			select {
			case pending <- &msg:
			default:
				c.sendError(ErrorData{Message: "too many pending messages", Code: "busy", Status: http.StatusTooManyRequests})
			}
		case "ping":
			c.send(OutgoingMessage{Type: "pong", ConversationID: c.currentConversation()})
		default:
			c.sendError(ErrorData{Message: "unsupported message type: " + msg.Type, Code: "unsupported_type"})
		}
	}
}

// replyLoop 按到达顺序处理文本消息，保证同一连接上的会话延续关系。
func (h *Handler) replyLoop(ctx context.Context, c *connection, pending <-chan *InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-pending:
			h.handleTextMessage(ctx, c, msg)
		}
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, c *connection, msg *InboundMessage) {
	var text TextMessage
	if err := json.Unmarshal(msg.Data, &text); err != nil {
		c.sendError(ErrorData{Message: "invalid text payload", Code: "invalid_request"})
		return
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = c.currentConversation()
	}

	reply, err := h.chatSvc.Chat(ctx, c.owner, conversationID, text.Text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m := apierror.Map(err)
		c.logger.Warn("websocket reply failed", "conversation_id", conversationID, "status", m.Status, "error", err)
		c.sendError(ErrorData{Message: m.Message, Code: m.Code, Status: m.Status})
		return
	}

	// 后续未指定会话的消息沿用本次会话。
	c.setConversation(reply.Assistant.SessionID)
	c.send(OutgoingMessage{
		Type:           "message",
		ConversationID: reply.Assistant.SessionID,
		Data:           chatHandler.NewMessageResponse(reply.Assistant),
	})
}

func (c *connection) send(msg OutgoingMessage) {
	msg.Timestamp = time.Now().Unix()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("websocket write failed", "type", msg.Type, "error", err)
	}
}

func (c *connection) sendError(data ErrorData) {
	c.send(OutgoingMessage{Type: "error", ConversationID: c.currentConversation(), Data: data})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
