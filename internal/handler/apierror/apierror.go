// Package apierror 把领域错误映射为 HTTP 状态码。
package apierror

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/ai"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

// Mapped 是错误映射的结果。
type Mapped struct {
	Status  int
	Code    string
	Message string
}

// Map 返回 err 对应的状态码、错误码与对外消息。
func Map(err error) Mapped {
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrMessageTooLong):
		return Mapped{http.StatusBadRequest, "invalid_message", err.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return Mapped{http.StatusUnauthorized, "unauthorized", "invalid or expired token"}
	case errors.Is(err, chatService.ErrAccessDenied):
		return Mapped{http.StatusForbidden, "access_denied", "access denied"}
	case errors.Is(err, chatService.ErrSessionNotFound):
		return Mapped{http.StatusNotFound, "conversation_not_found", "conversation not found"}
	case errors.Is(err, ai.ErrProviderThrottled):
		return Mapped{http.StatusTooManyRequests, "provider_throttled", "the assistant is busy, please retry shortly"}
	case errors.Is(err, ai.ErrProviderAuthFailed):
		return Mapped{http.StatusBadGateway, "provider_auth_failed", "the assistant is misconfigured"}
	case errors.Is(err, ai.ErrProviderUnavailable):
		return Mapped{http.StatusServiceUnavailable, "provider_unavailable", "the assistant is temporarily unavailable"}
	case errors.Is(err, context.Canceled):
		// 客户端已断开，状态码仅用于日志。
		return Mapped{499, "canceled", "request canceled"}
	default:
		return Mapped{http.StatusInternalServerError, "internal", "internal server error"}
	}
}

// Respond 写出 err 对应的错误响应。
func Respond(w http.ResponseWriter, r *http.Request, err error) {
	m := Map(err)
	if m.Status >= http.StatusInternalServerError {
		slog.Error("request error", "path", r.URL.Path, "status", m.Status, "error", err)
	}
	utils.RespondErrorCode(w, m.Status, m.Code, m.Message)
}
