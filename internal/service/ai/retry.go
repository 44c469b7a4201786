package ai

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig 描述单次逻辑调用的重试参数。
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy 执行带指数退避与抖动的有限次重试。
type RetryPolicy struct {
	cfg    RetryConfig
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy 创建重试策略。rng 为 nil 时使用独立随机种子的进程内随机源。
func NewRetryPolicy(cfg RetryConfig, rng *rand.Rand) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RetryPolicy{cfg: cfg, rng: rng, logger: slog.Default()}
}

// WithLogger 替换重试日志使用的 logger。
func (p *RetryPolicy) WithLogger(logger *slog.Logger) *RetryPolicy {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// MaxAttempts 返回最大尝试次数。
func (p *RetryPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// Delay 计算第 attempt 次（从 0 开始）失败后的等待时间：
// min(MaxDelay, BaseDelay*2^attempt) * U(0.5, 1.5)。
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	window := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if window > float64(p.cfg.MaxDelay) {
		window = float64(p.cfg.MaxDelay)
	}

	p.mu.Lock()
	factor := 0.5 + p.rng.Float64()
	p.mu.Unlock()

	return time.Duration(window * factor)
}

// jitterBackOff 把 RetryPolicy 适配为 backoff.BackOff。
type jitterBackOff struct {
	policy  *RetryPolicy
	attempt int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt)
	b.attempt++
	return d
}

func (b *jitterBackOff) Reset() { b.attempt = 0 }

// Run 在 policy 下执行 fn。成功立即返回；全部失败时原样返回最后一次的错误；
// ctx 被取消后不再重试并返回 ctx.Err()。
func Run[T any](ctx context.Context, p *RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	b := backoff.WithMaxRetries(
		backoff.WithContext(&jitterBackOff{policy: p}, ctx),
		uint64(p.cfg.MaxAttempts-1),
	)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("provider call failed, retrying",
			"attempt", attempt,
			"max_attempts", p.cfg.MaxAttempts,
			"delay", wait,
			"error", err,
		)
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}
