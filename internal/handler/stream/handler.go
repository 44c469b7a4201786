// Package stream 通过 Server-Sent Events 返回助手回复。
package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/apierror"
	chatHandler "github.com/zhouzirui/cyberbuddy/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

const defaultHeartbeat = 10 * time.Second

// Handler manages chat replies delivered via Server-Sent Events
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: defaultHeartbeat}
}

// Event 是 SSE data 字段的内容。
type Event struct {
	ConversationID string                       `json:"conversation_id,omitempty"`
	Message        *chatHandler.MessageResponse `json:"message,omitempty"`
	Error          string                       `json:"error,omitempty"`
	Code           string                       `json:"code,omitempty"`
	Status         int                          `json:"status,omitempty"`
	Time           string                       `json:"time,omitempty"`
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// 流开始前的校验错误仍以普通 JSON 返回。
	var payload chatHandler.Request
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.chatSvc.ValidateMessage(payload.Message); err != nil {
		apierror.Respond(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	if err := utils.SendSSEEvent(w, flusher, "start", Event{ConversationID: payload.ConversationID}); err != nil {
		return
	}

	type result struct {
		reply chatService.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := h.chatSvc.Chat(ctx, owner, payload.ConversationID, payload.Message)
		done <- result{reply, err}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			// 写失败说明客户端已断开，Chat 会随 ctx 结束。
			_ = utils.SendSSEEvent(w, flusher, "heartbeat", Event{Time: t.UTC().Format(time.RFC3339)})
		case res := <-done:
			if res.err != nil {
				m := apierror.Map(res.err)
				slog.Warn("stream reply failed", "status", m.Status, "error", res.err)
				_ = utils.SendSSEEvent(w, flusher, "error", Event{
					ConversationID: payload.ConversationID,
					Error:          m.Message,
					Code:           m.Code,
					Status:         m.Status,
				})
				return
			}

			msg := chatHandler.NewMessageResponse(res.reply.Assistant)
			if err := utils.SendSSEEvent(w, flusher, "message", Event{
				ConversationID: res.reply.Assistant.SessionID,
				Message:        &msg,
			}); err != nil {
				return
			}
			_ = utils.SendSSEEvent(w, flusher, "end", Event{ConversationID: res.reply.Assistant.SessionID})
			return
		}
	}
}
