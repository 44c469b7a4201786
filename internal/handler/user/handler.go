package user

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/handler/apierror"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

// Profiles 返回身份对应的用户资料。
type Profiles interface {
	EnsureUser(ctx context.Context, id user.Identity) (user.User, error)
}

// Handler 用户资料处理器
type Handler struct {
	profiles Profiles
}

// New 创建用户处理器
func New(profiles Profiles) *Handler {
	return &Handler{profiles: profiles}
}

// RegisterRoutes 注册用户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/user/me", h.handleMe)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		apierror.Respond(w, r, auth.ErrUnauthorized)
		return
	}

	profile, err := h.profiles.EnsureUser(r.Context(), id)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}
