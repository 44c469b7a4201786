package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

// Provider 是对外部生成式模型的单次调用。实现需要尊重 ctx 的取消与超时。
type Provider interface {
	Generate(ctx context.Context, systemPrompt string, history []chat.Turn, message string) (string, error)
}

// ProviderFunc 把普通函数适配为 Provider。
type ProviderFunc func(ctx context.Context, systemPrompt string, history []chat.Turn, message string) (string, error)

// Generate 调用 f。
func (f ProviderFunc) Generate(ctx context.Context, systemPrompt string, history []chat.Turn, message string) (string, error) {
	return f(ctx, systemPrompt, history, message)
}

// NewProvider 按 AI_PROVIDER 创建对应的 Provider。
func NewProvider(ctx context.Context, cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case config.ProviderArk:
		return NewChainProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
