// Package handlertest 提供 handler 测试共用的服务装配。
package handlertest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	"github.com/zhouzirui/cyberbuddy/backend/internal/repository"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/ai"
	chatService "github.com/zhouzirui/cyberbuddy/backend/internal/service/chat"
)

var (
	Alice = user.Identity{SubjectID: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	Bob   = user.Identity{SubjectID: "bob", Email: "bob@example.com"}
)

// Echo 回复 "echo: <message>"。
var Echo = ai.ProviderFunc(func(_ context.Context, _ string, _ []chat.Turn, message string) (string, error) {
	return "echo: " + message, nil
})

// NewService 用内存存储与毫秒级重试组装对话服务。
func NewService(provider ai.Provider) (*chatService.Service, *repository.MemoryStore) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	retry := ai.NewRetryPolicy(ai.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, nil).WithLogger(quiet)

	svc := chatService.NewService(store, provider, ai.NewGate(2, 0), retry, chatService.Options{
		HistoryWindow:    10,
		MaxMessageLength: 200,
		AttemptTimeout:   time.Second,
		Logger:           quiet,
	})
	return svc, store
}

// As 把 id 写入每个请求的上下文，替代真实的认证中间件。
func As(id user.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
