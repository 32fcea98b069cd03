package trade

import (
	"context"
	"time"

	"github.com/betbot/p2pbuy/internal/domain"
)

// ExpiryClock 本地倒计时。只读 expires_at 和当前时间，与结算轮询互不影响
// 上传等用户操作以本地时钟为准；结算结果以服务端状态为准
type ExpiryClock struct {
	tick time.Duration
	now  func() time.Time
}

// NewExpiryClock tick <= 0 时使用 1 秒
func NewExpiryClock(tick time.Duration) *ExpiryClock {
	if tick <= 0 {
		tick = time.Second
	}
	return &ExpiryClock{tick: tick, now: time.Now}
}

// Now 当前时间
func (c *ExpiryClock) Now() time.Time { return c.now() }

// Tick 刷新间隔
func (c *ExpiryClock) Tick() time.Duration { return c.tick }

// Remaining expires_at - now，下限为 0
func (c *ExpiryClock) Remaining(t *domain.Trade, now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingSeconds 剩余整秒数（向下取整，非负）
func (c *ExpiryClock) RemainingSeconds(t *domain.Trade, now time.Time) int64 {
	return int64(c.Remaining(t, now) / time.Second)
}

// Elapsed 本地倒计时是否已经结束：显示的剩余秒数为 0 即视为结束
// 与 RemainingSeconds 保持一致，不能出现显示 0 但仍可上传
func (c *ExpiryClock) Elapsed(t *domain.Trade, now time.Time) bool {
	return c.RemainingSeconds(t, now) == 0
}

// CanUpload 上传门控：本地状态允许、服务端仍为 pending、本地倒计时未结束
func (c *ExpiryClock) CanUpload(e Entry, now time.Time) bool {
	if e.Trade == nil || !e.Flow.AcceptsUpload() {
		return false
	}
	if e.Trade.Status != domain.TradeStatusPending {
		return false
	}
	return !c.Elapsed(e.Trade, now)
}

// Run 每个 tick 调用一次 fn，直到 ctx 结束
func (c *ExpiryClock) Run(ctx context.Context, fn func(now time.Time)) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	fn(c.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(c.now())
		}
	}
}
