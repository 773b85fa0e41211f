package gateway

import (
	"sync"
	"time"
)

// RateLimiter 按请求权重控制出站速率，避免触发交易所 418/429 限流。
// Binance 按端点权重计费（exchangeInfo 和 account 远重于单笔下单），
// 再平衡周期里 K 线批量拉取是主要消耗，因此以权重而非次数计数。
type RateLimiter interface {
	WaitN(weight int)
}

// WeightedLimiter 令牌桶，令牌即权重单位。
type WeightedLimiter struct {
	mu        sync.Mutex
	perSecond float64
	capacity  float64
	available float64
	refilled  time.Time
}

// NewTokenBucketLimiter rate 为每秒补充的权重单位，burst 为桶容量。
func NewTokenBucketLimiter(rate float64, burst int) *WeightedLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &WeightedLimiter{
		perSecond: rate,
		capacity:  float64(burst),
		available: float64(burst),
		refilled:  time.Now(),
	}
}

func (l *WeightedLimiter) refill(now time.Time) {
	l.available += now.Sub(l.refilled).Seconds() * l.perSecond
	if l.available > l.capacity {
		l.available = l.capacity
	}
	l.refilled = now
}

// WaitN 扣除 weight 个权重单位，不足时阻塞到补满为止。
// weight 超过桶容量时按容量封顶，否则永远无法放行。
func (l *WeightedLimiter) WaitN(weight int) {
	need := float64(weight)
	if need <= 0 {
		need = 1
	}
	if need > l.capacity {
		need = l.capacity
	}
	l.mu.Lock()
	l.refill(time.Now())
	if l.available >= need {
		l.available -= need
		l.mu.Unlock()
		return
	}
	shortfall := need - l.available
	sleep := time.Duration(shortfall / l.perSecond * float64(time.Second))
	l.available = 0
	// 预支了 sleep 期间补充的权重，把补充基准时间一并前移避免重复计入
	l.refilled = l.refilled.Add(sleep)
	l.mu.Unlock()

	time.Sleep(sleep)
}
