package ai

import (
	"context"
	"time"
)

// Call 在 gate 的一个槽位内按 retry 策略执行 fn。槽位覆盖全部重试，
// 每次尝试单独套用 attemptTimeout（<= 0 时不限时）。
func Call[T any](ctx context.Context, gate *Gate, retry *RetryPolicy, attemptTimeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := gate.Acquire(ctx); err != nil {
		var zero T
		return zero, err
	}
	defer gate.Release()

	return Run(ctx, retry, func(ctx context.Context) (T, error) {
		if attemptTimeout <= 0 {
			return fn(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		return fn(attemptCtx)
	})
}
