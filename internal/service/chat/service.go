package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	"github.com/zhouzirui/cyberbuddy/backend/internal/repository"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/ai"
)

var (
	ErrSessionNotFound = repository.ErrSessionNotFound
	ErrAccessDenied    = errors.New("access denied")
	ErrEmptyMessage    = errors.New("message is required")
	ErrMessageTooLong  = errors.New("message is too long")
)

// DefaultFallbackReply 在模型返回空文本时作为助手回复。
const DefaultFallbackReply = "I'm sorry, I couldn't come up with a response. Could you rephrase your question?"

// Options 控制对话编排。
type Options struct {
	HistoryWindow    int
	FallbackReply    string
	MaxMessageLength int
	AttemptTimeout   time.Duration
	SystemPrompt     string
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FallbackReply == "" {
		o.FallbackReply = DefaultFallbackReply
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = ai.SystemPrompt("")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Reply 是一次对话请求的结果。
type Reply struct {
	Session   chat.Session
	UserTurn  chat.Turn
	Assistant chat.Turn
}

// Service 编排会话存储、限流闸门、重试策略与模型调用。
type Service struct {
	store    repository.Store
	provider ai.Provider
	gate     *ai.Gate
	retry    *ai.RetryPolicy
	opts     Options
	locks    *sessionLocks
	logger   *slog.Logger
}

// NewService 组装对话服务。gate 与 retry 由调用方创建并在进程内共享。
func NewService(store repository.Store, provider ai.Provider, gate *ai.Gate, retry *ai.RetryPolicy, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:    store,
		provider: provider,
		gate:     gate,
		retry:    retry,
		opts:     opts,
		locks:    newSessionLocks(),
		logger:   opts.Logger,
	}
}

// GateStats 返回限流闸门的状态。
func (s *Service) GateStats() ai.GateStats {
	return s.gate.Stats()
}

// EnsureUser 返回身份对应的用户资料，首次出现时创建。
func (s *Service) EnsureUser(ctx context.Context, owner user.Identity) (user.User, error) {
	return s.store.GetOrCreateUser(ctx, owner)
}

// ValidateMessage 检查消息非空且不超过长度上限。
func (s *Service) ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if s.opts.MaxMessageLength > 0 && utf8.RuneCountInString(message) > s.opts.MaxMessageLength {
		return fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, s.opts.MaxMessageLength)
	}
	return nil
}

// Chat 处理一条用户消息。sessionID 为空时先以消息内容为标题创建新会话。
func (s *Service) Chat(ctx context.Context, owner user.Identity, sessionID, message string) (Reply, error) {
	if err := s.ValidateMessage(message); err != nil {
		return Reply{}, err
	}

	if sessionID == "" {
		session, err := s.store.CreateSession(ctx, owner.SubjectID, titleFromMessage(message))
		if err != nil {
			return Reply{}, err
		}
		sessionID = session.ID
		s.logger.Info("session created from first message", "session_id", sessionID, "owner", owner.SubjectID)
	}

	return s.send(ctx, sessionID, owner, message)
}

// Send 把 message 追加到会话并返回持久化后的助手回复。
func (s *Service) Send(ctx context.Context, sessionID string, owner user.Identity, message string) (chat.Turn, error) {
	if err := s.ValidateMessage(message); err != nil {
		return chat.Turn{}, err
	}
	reply, err := s.send(ctx, sessionID, owner, message)
	if err != nil {
		return chat.Turn{}, err
	}
	return reply.Assistant, nil
}

func (s *Service) send(ctx context.Context, sessionID string, owner user.Identity, message string) (Reply, error) {
	unlock, err := s.locks.lock(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	session, err := s.ownedSession(ctx, owner, sessionID)
	if err != nil {
		return Reply{}, err
	}

	history, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}

	// 先落库用户消息，模型调用失败也不会丢失输入。
	userTurn, err := s.store.AppendTurn(ctx, sessionID, chat.RoleUser, message)
	if err != nil {
		return Reply{}, err
	}
	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		return Reply{}, err
	}

	window := recentWindow(history, s.opts.HistoryWindow)
	start := time.Now()
	text, err := s.generate(ctx, window, message)
	if err != nil {
		classified := ai.Classify(err)
		s.logger.Error("provider call failed",
			"session_id", sessionID,
			"duration", time.Since(start),
			"error", classified,
		)
		return Reply{}, classified
	}

	if strings.TrimSpace(text) == "" {
		s.logger.Warn("provider returned empty reply, using fallback", "session_id", sessionID)
		text = s.opts.FallbackReply
	}

	assistant, err := s.store.AppendTurn(ctx, sessionID, chat.RoleAssistant, text)
	if err != nil {
		return Reply{}, err
	}
	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		return Reply{}, err
	}

	s.logger.Info("chat reply generated",
		"session_id", sessionID,
		"history", len(window),
		"duration", time.Since(start),
		"length", len(text),
	)
	return Reply{Session: session, UserTurn: userTurn, Assistant: assistant}, nil
}

// generate 在闸门内通过重试策略调用模型，每次尝试单独计时。
func (s *Service) generate(ctx context.Context, window []chat.Turn, message string) (string, error) {
	return ai.Call(ctx, s.gate, s.retry, s.opts.AttemptTimeout, func(ctx context.Context) (string, error) {
		return s.provider.Generate(ctx, s.opts.SystemPrompt, window, message)
	})
}

func (s *Service) ownedSession(ctx context.Context, owner user.Identity, sessionID string) (chat.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if !session.OwnedBy(owner.SubjectID) {
		return chat.Session{}, ErrAccessDenied
	}
	return session, nil
}

// CreateSession 为 owner 创建一个会话。
func (s *Service) CreateSession(ctx context.Context, owner user.Identity, title string) (chat.Session, error) {
	return s.store.CreateSession(ctx, owner.SubjectID, strings.TrimSpace(title))
}

// GetSession 返回 owner 的会话。
func (s *Service) GetSession(ctx context.Context, owner user.Identity, sessionID string) (chat.Session, error) {
	return s.ownedSession(ctx, owner, sessionID)
}

// ListSessions 按最近更新时间倒序返回 owner 的全部会话。
func (s *Service) ListSessions(ctx context.Context, owner user.Identity) ([]chat.Session, error) {
	return s.store.ListSessions(ctx, owner.SubjectID)
}

// Transcript 返回会话的完整记录。
func (s *Service) Transcript(ctx context.Context, owner user.Identity, sessionID string) ([]chat.Turn, error) {
	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListTurns(ctx, sessionID)
}

// DeleteSession 删除会话及其记录。进行中的发送完成后才会执行删除。
func (s *Service) DeleteSession(ctx context.Context, owner user.Identity, sessionID string) error {
	unlock, err := s.locks.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session deleted", "session_id", sessionID, "owner", owner.SubjectID)
	return nil
}
