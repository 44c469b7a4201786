// Package repository 持久化会话、对话轮次与用户资料。
package repository

import (
	"context"
	"errors"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// ErrSessionNotFound 表示会话不存在。
var ErrSessionNotFound = errors.New("session not found")

// Store 是会话与对话轮次的存储接口。除 ErrSessionNotFound 外的错误均为包裹后的驱动错误。
type Store interface {
	GetSession(ctx context.Context, id string) (chat.Session, error)
	CreateSession(ctx context.Context, ownerID, title string) (chat.Session, error)
	// ListSessions 按 UpdatedAt 倒序返回 owner 的会话。
	ListSessions(ctx context.Context, ownerID string) ([]chat.Session, error)
	// DeleteSession 删除会话及其全部轮次。
	DeleteSession(ctx context.Context, id string) error

	// ListTurns 按写入顺序返回会话的全部轮次。
	ListTurns(ctx context.Context, sessionID string) ([]chat.Turn, error)
	// AppendTurn 追加一条轮次。CreatedAt 不会早于同一会话的上一条轮次。
	AppendTurn(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Turn, error)
	// TouchSession 把会话的 UpdatedAt 更新为当前时间。
	TouchSession(ctx context.Context, sessionID string) error

	GetOrCreateUser(ctx context.Context, id user.Identity) (user.User, error)

	Ping(ctx context.Context) error
	Close() error
}

func normalizeTitle(title string) string {
	if title == "" {
		return chat.DefaultTitle
	}
	return title
}
