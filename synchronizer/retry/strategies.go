package retry

import (
	"math/rand"
	"time"
)

// Strategy 决定第 attempt 次失败后（从 0 开始）等待多久
type Strategy interface {
	Duration(attempt int) time.Duration
}

// Backoff 从 Initial 开始每次失败翻倍，到 Max 为止，再加上 [0, Jitter) 的随机抖动
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

func (b *Backoff) Duration(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Exponential 是 RPC 调用的默认退避：1s, 2s, 4s ... 最多 10s
func Exponential() Strategy {
	return &Backoff{
		Initial: time.Second,
		Max:     10 * time.Second,
		Jitter:  250 * time.Millisecond,
	}
}

// Fixed 每次等待相同时长
func Fixed(dur time.Duration) Strategy {
	return fixed(dur)
}

type fixed time.Duration

func (f fixed) Duration(int) time.Duration {
	return time.Duration(f)
}
