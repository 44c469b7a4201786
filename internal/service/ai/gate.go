package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate 控制对模型提供方的并发调用数量，并保证两次调用的开始时间至少间隔 minInterval。
type Gate struct {
	slots       *semaphore.Weighted
	maxSlots    int
	minInterval time.Duration
	now         func() time.Time

	mu        sync.Mutex
	lastStart time.Time
	active    atomic.Int64
}

// GateStats 是 Gate 当前状态的快照。
type GateStats struct {
	Active      int           `json:"active"`
	MaxSlots    int           `json:"max_slots"`
	MinInterval time.Duration `json:"min_interval"`
	LastStart   time.Time     `json:"last_start,omitempty"`
}

// NewGate 创建一个 Gate。maxSlots 小于 1 时按 1 处理。
func NewGate(maxSlots int, minInterval time.Duration) *Gate {
	if maxSlots < 1 {
		maxSlots = 1
	}
	if minInterval < 0 {
		minInterval = 0
	}
	return &Gate{
		slots:       semaphore.NewWeighted(int64(maxSlots)),
		maxSlots:    maxSlots,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Acquire 阻塞直到拿到一个并发槽位并且距离上一次调用开始已超过最小间隔。
// ctx 取消时返回 ctx.Err()，已占用的槽位会被归还。
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	wait := g.reserve()
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// 预约的开始时间不回滚，后续调用者最多多等一个间隔。
			g.slots.Release(1)
			return ctx.Err()
		}
	}

	g.active.Add(1)
	return nil
}

// reserve 在锁内预约下一次调用的开始时间，返回需要等待的时长。
func (g *Gate) reserve() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	start := now
	if !g.lastStart.IsZero() {
		if next := g.lastStart.Add(g.minInterval); next.After(now) {
			start = next
		}
	}
	g.lastStart = start
	return start.Sub(now)
}

// Release 归还一个槽位，不影响调用间隔的计时。
func (g *Gate) Release() {
	g.active.Add(-1)
	g.slots.Release(1)
}

// Stats 返回当前状态。
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	last := g.lastStart
	g.mu.Unlock()

	return GateStats{
		Active:      int(g.active.Load()),
		MaxSlots:    g.maxSlots,
		MinInterval: g.minInterval,
		LastStart:   last,
	}
}
