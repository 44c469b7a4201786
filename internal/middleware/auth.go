package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	"github.com/zhouzirui/cyberbuddy/backend/pkg/utils"
)

// UserRegistry 在首次认证时建立用户资料。
type UserRegistry interface {
	EnsureUser(ctx context.Context, id user.Identity) (user.User, error)
}

// Authenticate 校验请求携带的 bearer token，并把身份写入请求上下文。
// WebSocket 握手无法设置请求头，因此也接受 ?token= 查询参数。
func Authenticate(verifier auth.Verifier, users UserRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.RespondErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("token rejected", "path", r.URL.Path, "error", err)
				utils.RespondErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			if users != nil {
				if _, err := users.EnsureUser(r.Context(), id); err != nil {
					slog.Error("failed to register user", "subject", id.SubjectID, "error", err)
					utils.RespondError(w, http.StatusInternalServerError, "internal server error")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
