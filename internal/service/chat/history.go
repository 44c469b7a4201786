package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

const titleLimit = 50

// recentWindow 保留最近的 n 条轮次，顺序不变。n <= 0 时不带历史。
func recentWindow(turns []chat.Turn, n int) []chat.Turn {
	if n <= 0 || len(turns) == 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// titleFromMessage 用首条消息生成会话标题：超过 50 个字符时截断并追加 "..."。
func titleFromMessage(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return chat.DefaultTitle
	}
	if utf8.RuneCountInString(message) <= titleLimit {
		return message
	}
	runes := []rune(message)
	return string(runes[:titleLimit]) + "..."
}
