package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate 令牌桶参数
type Rate struct {
	Burst     int     // 桶容量
	PerSecond float64 // 每秒补充的令牌数，<= 0 表示不限流
}

func (r Rate) limiter() *rate.Limiter {
	if r.PerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, r.Burst)
	}
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.PerSecond), burst)
}

// Limiter 按 endpoint 分桶的令牌桶
// 同一 endpoint 的请求（例如所有交易的结算轮询）共享一个桶，避免把后端打满；
// 不同 endpoint 互不影响，订单列表刷新不会拖慢凭证上传
type Limiter struct {
	mu        sync.Mutex
	def       Rate
	overrides map[string]Rate
	buckets   map[string]*rate.Limiter
	now       func() time.Time
}

// New overrides 中没有的 endpoint 使用 def
func New(def Rate, overrides map[string]Rate) *Limiter {
	return &Limiter{
		def:       def,
		overrides: overrides,
		buckets:   make(map[string]*rate.Limiter),
		now:       time.Now,
	}
}

// 新桶初始为满
func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		r, ok := l.overrides[key]
		if !ok {
			r = l.def
		}
		b = r.limiter()
		l.buckets[key] = b
	}
	return b
}

// Allow 有令牌时消耗一个并返回 true
func (l *Limiter) Allow(key string) bool {
	return l.get(key).AllowN(l.now(), 1)
}

// Wait 等待直到拿到令牌或 ctx 结束
// ctx 的截止时间之前拿不到令牌时立即返回 context.DeadlineExceeded，不空等
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.get(key).Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ratelimit %s: %v: %w", key, err, context.DeadlineExceeded)
	}
	return nil
}

// Remaining 当前可用令牌数（取整，非负）
func (l *Limiter) Remaining(key string) int {
	n := int(l.get(key).TokensAt(l.now()))
	if n < 0 {
		return 0
	}
	return n
}
