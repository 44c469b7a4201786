package ai

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider 通过 Google GenAI SDK 调用 Gemini。
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider 创建 Gemini 客户端。
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

// Generate 发送一次 GenerateContent 请求并返回回复文本。
func (p *GeminiProvider) Generate(ctx context.Context, systemPrompt string, history []chat.Turn, message string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildGeminiContents(history, message), cfg)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	slog.Debug("gemini response", "model", p.model, "history", len(history), "length", len(text))
	return text, nil
}

// buildGeminiContents 把历史转换成 user/model 交替的序列：
// 相邻同角色的消息合并为一条，开头的 model 消息被丢弃，最后追加新消息。
func buildGeminiContents(history []chat.Turn, message string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	appendPart := func(role, text string) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(text))
			return
		}
		contents = append(contents, genai.NewContentFromText(text, genai.Role(role)))
	}

	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			appendPart(genai.RoleUser, turn.Content)
		case chat.RoleAssistant:
			if len(contents) == 0 {
				continue
			}
			appendPart(genai.RoleModel, turn.Content)
		}
	}
	appendPart(genai.RoleUser, message)
	return contents
}
