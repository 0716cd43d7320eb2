// Package retry 为外部读调用（embedding、向量查询、rerank、补全）提供指数退避重试。
// 写操作与已经开始输出的流不应经过这里。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts  int // 含首次调用，1 表示不重试
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry 为 nil 时使用 Retryable
	ShouldRetry func(err error) bool
	// OnRetry 在每次等待前调用，attempt 为即将进行的尝试序号（从 2 开始）
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 3 次尝试，500ms 起步，上限 5s，带抖动
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// PolicyFrom 用 rag.retry 配置覆盖默认值，零值字段保持默认
func PolicyFrom(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// Retryable 默认的可重试判断：ctx 结束不重试，结构化错误看 Retryable 标记，
// 其余错误（连接重置、EOF 等）视为瞬时故障
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	return true
}

// Retryer 按 Policy 执行重试。nil *Retryer 只调用一次。
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.MaxAttempts = max(policy.MaxAttempts, 1)
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	policy.MaxDelay = max(policy.MaxDelay, policy.InitialDelay)
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = Retryable
	}
	return &Retryer{policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

// Do 执行 fn，可重试错误按退避间隔重试，ctx 结束时立即返回
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 带返回值的重试
//
//	vec, err := retry.Do(ctx, r, func(ctx context.Context) ([]float32, error) {
//		return embedder.EmbedQuery(ctx, text)
//	})
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	if r == nil {
		return fn(ctx)
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt-1, lastErr)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return v, nil
		}
		if !r.policy.ShouldRetry(err) {
			return zero, err
		}
		lastErr = err
	}

	r.logger.Warn("retries exhausted", zap.Int("attempts", r.policy.MaxAttempts), zap.Error(lastErr))
	return zero, fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// backoff 第 n 次重试前的等待：InitialDelay * Multiplier^(n-1)，±25% 抖动，
// 不短于 InitialDelay，不长于 MaxDelay。上游给出 Retry-After 时取较大者（仍受 MaxDelay 约束）。
func (r *Retryer) backoff(n int, err error) time.Duration {
	p := r.policy
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1))
	if p.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	d = math.Min(d, float64(p.MaxDelay))
	d = math.Max(d, float64(p.InitialDelay))

	delay := time.Duration(d)
	if ra := types.RetryAfterOf(err); ra > delay {
		delay = min(ra, p.MaxDelay)
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
