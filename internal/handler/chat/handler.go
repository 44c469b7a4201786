package chat

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/apierror"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

// Request 是 POST /chat 与 /chat/stream 的请求体。
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// MessageResponse 是单条消息的对外表示。
type MessageResponse struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Response 是 POST /chat 的响应体。
type Response struct {
	ConversationID string          `json:"conversation_id"`
	Message        MessageResponse `json:"message"`
}

// NewMessageResponse 把 turn 转换为对外表示。
func NewMessageResponse(t chat.Turn) MessageResponse {
	return MessageResponse{ID: t.ID, Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
}

// Handler 聊天与会话管理的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.handleListConversations)
		r.Post("/", h.handleCreateConversation)
		r.Get("/{conversationID}", h.handleGetConversation)
		r.Get("/{conversationID}/messages", h.handleListMessages)
		r.Delete("/{conversationID}", h.handleDeleteConversation)
	})
}

// handleChat 发送一条消息并返回助手回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	var payload Request
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := h.chatSvc.Chat(r.Context(), owner, payload.ConversationID, payload.Message)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, Response{
		ConversationID: reply.Assistant.SessionID,
		Message:        NewMessageResponse(reply.Assistant),
	})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), owner)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	var payload struct {
		Title string `json:"title"`
	}
	// 请求体可省略。
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, &payload); err != nil {
			utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), owner, payload.Title)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), owner, chi.URLParam(r, "conversationID"))
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	turns, err := h.chatSvc.Transcript(r.Context(), owner, chi.URLParam(r, "conversationID"))
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}

	messages := make([]MessageResponse, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, NewMessageResponse(t))
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	if err := h.chatSvc.DeleteSession(r.Context(), owner, chi.URLParam(r, "conversationID")); err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}
