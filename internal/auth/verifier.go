// Package auth 把 bearer token 校验为调用者身份。
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// ErrUnauthorized 表示 token 缺失、无效或已过期。
var ErrUnauthorized = errors.New("unauthorized")

// Verifier 校验 bearer token 并返回调用者身份。失败时返回的错误包裹 ErrUnauthorized。
type Verifier interface {
	Verify(ctx context.Context, token string) (user.Identity, error)
}

// NewVerifier 按 AUTH_MODE 创建校验器。
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	switch cfg.Mode {
	case config.AuthJWT:
		return NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	case config.AuthFirebase:
		return NewFirebaseVerifier(ctx, cfg.FirebaseCredentials, cfg.FirebaseProjectID)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func unauthorized(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnauthorized, reason, err)
}

type identityKey struct{}

// WithIdentity 把身份写入 ctx。
func WithIdentity(ctx context.Context, id user.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 从 ctx 读取身份。
func IdentityFrom(ctx context.Context) (user.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(user.Identity)
	return id, ok && id.SubjectID != ""
}
