package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

// ChainProvider 通过 eino 编排链调用 Ark 模型。
type ChainProvider struct {
	modelName string
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewChainProvider 使用 Ark 配置创建模型并编译对话链。
func NewChainProvider(ctx context.Context, cfg config.AIConfig) (*ChainProvider, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newChainProvider(ctx, cfg.Model, chatModel)
}

func newChainProvider(ctx context.Context, modelName string, chatModel model.ChatModel) (*ChainProvider, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainProvider{modelName: modelName, chain: runnable}, nil
}

// Generate 运行对话链并返回回复文本。
func (p *ChainProvider) Generate(ctx context.Context, systemPrompt string, history []chat.Turn, message string) (string, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": buildSchemaHistory(history),
		"query":   message,
	}

	response, err := p.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", nil
	}

	slog.Debug("ark response", "model", p.modelName, "history", len(history), "length", len(response.Content))
	return response.Content, nil
}

func buildSchemaHistory(history []chat.Turn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
